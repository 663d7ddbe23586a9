package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

const docxMainPart = "word/document.xml"

// WordExtractor handles word-processor files. OOXML (.docx) is unpacked
// here; OpenDocument (.odt) and legacy .doc go through docconv.
type WordExtractor struct{}

func (e *WordExtractor) Extract(_ context.Context, data []byte, filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".doc":
		return convertWith(docconv.ConvertDoc, data, "doc")
	case ".odt":
		return convertWith(docconv.ConvertODT, data, "odt")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		// not a zip container: the only word format left is binary .doc
		return convertWith(docconv.ConvertDoc, data, "doc")
	}
	if hasPart(zr, "content.xml") && !hasPart(zr, docxMainPart) {
		return convertWith(docconv.ConvertODT, data, "odt")
	}
	return extractDocx(zr)
}

func convertWith(convert func(io.Reader) (string, map[string]string, error), data []byte, kind string) (string, error) {
	text, _, err := convert(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", core.ErrExtraction, kind, err)
	}
	return text, nil
}

func hasPart(zr *zip.Reader, name string) bool {
	for _, f := range zr.File {
		if f.Name == name {
			return true
		}
	}
	return false
}

// extractDocx concatenates the paragraph text of word/document.xml,
// separating paragraphs with a blank line.
func extractDocx(zr *zip.Reader) (string, error) {
	var part *zip.File
	for _, f := range zr.File {
		if f.Name == docxMainPart {
			part = f
			break
		}
	}
	if part == nil {
		return "", fmt.Errorf("%w: docx: %s not found", core.ErrExtraction, docxMainPart)
	}

	rc, err := part.Open()
	if err != nil {
		return "", fmt.Errorf("%w: docx: open %s: %v", core.ErrExtraction, part.Name, err)
	}
	defer rc.Close()

	paragraphs, err := docxParagraphs(rc)
	if err != nil {
		return "", fmt.Errorf("%w: docx: %v", core.ErrExtraction, err)
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

// docxParagraphs walks the WordprocessingML token stream. Walking tokens
// rather than unmarshalling into a fixed tree also picks up paragraphs nested
// in tables and text boxes.
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    []string
		cur    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if p := strings.TrimSpace(cur.String()); p != "" {
					out = append(out, p)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	if p := strings.TrimSpace(cur.String()); p != "" {
		out = append(out, p)
	}
	return out, nil
}
