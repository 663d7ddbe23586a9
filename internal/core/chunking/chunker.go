package chunking

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 150
)

// Chunk is one bounded slice of a document's normalized text. Start and End
// are rune offsets into Normalize(text); Content is that range with each
// whitespace run turned into a single space.
type Chunk struct {
	Index   int
	Content string
	Start   int
	End     int
	Section string
}

// Chunker splits text into paragraph-aware, overlapping chunks of at most
// size characters.
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSize sets the character budget per chunk.
func WithSize(n int) Option {
	return func(c *Chunker) { c.size = n }
}

// WithOverlap sets how many trailing characters of a sealed chunk seed the
// next one.
func WithOverlap(n int) Option {
	return func(c *Chunker) { c.overlap = n }
}

// New builds a Chunker. The overlap must be smaller than the size.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", core.ErrChunking, c.size)
	}
	if c.overlap < 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", core.ErrChunking, c.overlap, c.size)
	}
	return c, nil
}

// Size returns the character budget.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap width.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text into ordered chunks. The result is deterministic for a
// given text, size and overlap.
func (c *Chunker) Chunk(text string) ([]Chunk, error) {
	canon, paras := layout(text)
	if len(paras) == 0 {
		return nil, fmt.Errorf("%w: no content to chunk", core.ErrChunking)
	}
	runes := []rune(canon)

	var (
		spans    []span
		bufStart = -1
		bufEnd   int
		lastEnd  = -1
	)
	emit := func(s, e int) {
		spans = append(spans, span{s, e})
		lastEnd = e
	}
	// restart picks where a buffer opening with paragraph p begins: the
	// trailing overlap of the last chunk, shortened when it would push the
	// buffer past the budget, and never after the last chunk's end.
	restart := func(p span) int {
		if lastEnd < 0 {
			return p.start
		}
		return min(max(lastEnd-c.overlap, p.end-c.size), lastEnd)
	}

	for _, p := range paras {
		if p.len() > c.size {
			if bufStart >= 0 {
				emit(bufStart, bufEnd)
				bufStart = -1
			}
			from := p.start
			if lastEnd >= 0 {
				from = lastEnd
			}
			c.slice(from, p.end, emit)
			continue
		}
		if bufStart < 0 {
			bufStart, bufEnd = restart(p), p.end
			continue
		}
		if p.end-bufStart > c.size {
			emit(bufStart, bufEnd)
			bufStart, bufEnd = restart(p), p.end
			continue
		}
		bufEnd = p.end
	}
	if bufStart >= 0 {
		emit(bufStart, bufEnd)
	}

	headings := sectionHeadings(runes, paras)
	out := make([]Chunk, 0, len(spans))
	for _, s := range spans {
		content := squeeze(string(runes[s.start:s.end]))
		if strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, Chunk{
			Index:   len(out),
			Content: content,
			Start:   s.start,
			End:     s.end,
			Section: headings.at(s.start),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no content to chunk", core.ErrChunking)
	}
	return out, nil
}

// slice cuts [start, end) into fixed-width windows that overlap by c.overlap.
func (c *Chunker) slice(start, end int, emit func(s, e int)) {
	step := c.size - c.overlap
	for s := start; ; s += step {
		e := min(s+c.size, end)
		emit(s, e)
		if e == end {
			return
		}
	}
}

// Normalize returns the canonical form of text that chunk offsets refer to:
// LF line endings, runs of blanks collapsed inside each line, and paragraphs
// separated by exactly one blank line.
func Normalize(text string) string {
	canon, _ := layout(text)
	return canon
}

type span struct{ start, end int }

func (s span) len() int { return s.end - s.start }

// layout canonicalises text and returns the rune span of every paragraph.
func layout(text string) (string, []span) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var (
		b     strings.Builder
		paras []span
		pos   int
		lines []string
	)
	flush := func() {
		if len(lines) == 0 {
			return
		}
		if len(paras) > 0 {
			b.WriteString("\n\n")
			pos += 2
		}
		p := strings.Join(lines, "\n")
		n := len([]rune(p))
		b.WriteString(p)
		paras = append(paras, span{pos, pos + n})
		pos += n
		lines = lines[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		line = collapse(line)
		if line == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return b.String(), paras
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// squeeze replaces every whitespace run with one space but keeps a run at
// either edge, so a cut landing on a line break still yields the same
// overlap in both neighbouring chunks.
func squeeze(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	blank := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !blank {
				b.WriteByte(' ')
			}
			blank = true
			continue
		}
		blank = false
		b.WriteRune(r)
	}
	return b.String()
}

type headingIndex struct {
	starts []int
	titles []string
}

// sectionHeadings records markdown ATX headings that open a paragraph.
func sectionHeadings(runes []rune, paras []span) headingIndex {
	var idx headingIndex
	for _, p := range paras {
		first := string(runes[p.start:p.end])
		if i := strings.IndexByte(first, '\n'); i >= 0 {
			first = first[:i]
		}
		rest := strings.TrimLeft(first, "#")
		if rest == first || !strings.HasPrefix(rest, " ") {
			continue
		}
		title := strings.TrimSpace(rest)
		if title == "" {
			continue
		}
		idx.starts = append(idx.starts, p.start)
		idx.titles = append(idx.titles, title)
	}
	return idx
}

// at returns the nearest heading starting at or before pos.
func (h headingIndex) at(pos int) string {
	title := ""
	for i, s := range h.starts {
		if s > pos {
			break
		}
		title = h.titles[i]
	}
	return title
}
