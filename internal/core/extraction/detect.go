package extraction

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

var byExtension = map[string]models.DocumentType{
	".pdf":      models.TypePDF,
	".docx":     models.TypeWordDocument,
	".doc":      models.TypeWordDocument,
	".odt":      models.TypeWordDocument,
	".txt":      models.TypePlainText,
	".text":     models.TypePlainText,
	".log":      models.TypePlainText,
	".md":       models.TypeMarkdown,
	".markdown": models.TypeMarkdown,
	".csv":      models.TypeTabularText,
	".tsv":      models.TypeTabularText,
	".xlsx":     models.TypeTabularText,
}

var byContentType = map[string]models.DocumentType{
	"application/pdf":    models.TypePDF,
	"application/x-pdf":  models.TypePDF,
	"application/msword": models.TypeWordDocument,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": models.TypeWordDocument,
	"application/vnd.oasis.opendocument.text":                                 models.TypeWordDocument,
	"text/plain":                models.TypePlainText,
	"text/markdown":             models.TypeMarkdown,
	"text/x-markdown":           models.TypeMarkdown,
	"text/csv":                  models.TypeTabularText,
	"text/tab-separated-values": models.TypeTabularText,
	"application/vnd.ms-excel":  models.TypeTabularText,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": models.TypeTabularText,
}

// Detect infers the document type. The filename extension wins; the
// declared content type is the fallback; when both are inconclusive and
// leading bytes are given, they are sniffed.
func Detect(filename, contentType string, head []byte) models.DocumentType {
	if t, ok := byExtension[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	if t := fromContentType(contentType); t != models.TypeUnknown {
		return t
	}
	if len(head) == 0 {
		return models.TypeUnknown
	}
	for m := mimetype.Detect(head); m != nil; m = m.Parent() {
		if t := fromContentType(m.String()); t != models.TypeUnknown {
			return t
		}
	}
	return models.TypeUnknown
}

func fromContentType(contentType string) models.DocumentType {
	if contentType == "" {
		return models.TypeUnknown
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	if t, ok := byContentType[strings.ToLower(mt)]; ok {
		return t
	}
	return models.TypeUnknown
}
