package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

func newDefault(t *testing.T) *Chunker {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	return c
}

// alphabet returns n characters without whitespace that never repeat within
// a short window, so overlap comparisons are meaningful.
func alphabet(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(letters[(i*7+i/len(letters))%len(letters)])
	}
	return b.String()
}

func TestNewRejectsInvalidWindow(t *testing.T) {
	_, err := New(WithSize(0))
	assert.ErrorIs(t, err, core.ErrChunking)

	_, err = New(WithSize(100), WithOverlap(100))
	assert.ErrorIs(t, err, core.ErrChunking)

	_, err = New(WithOverlap(-1))
	assert.ErrorIs(t, err, core.ErrChunking)
}

func TestChunkTwoShortParagraphs(t *testing.T) {
	text := strings.Repeat("A", 500) + "\n\n" + strings.Repeat("B", 500)

	chunks, err := newDefault(t).Chunk(text)
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, strings.Repeat("A", 500)+" "+strings.Repeat("B", 500), chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 1002, chunks[0].End)
}

func TestChunkSingleOversizedParagraph(t *testing.T) {
	text := alphabet(5000)

	chunks, err := newDefault(t).Chunk(text)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	first, second := chunks[0].Content, chunks[1].Content
	assert.Equal(t, first[len(first)-150:], second[:150])
	assert.Equal(t, [][2]int{{0, 2000}, {1850, 3850}, {3700, 5000}}, spansOf(chunks))
}

func TestChunkOverlapSurvivesLineBreakCuts(t *testing.T) {
	lines := make([]string, 60)
	for i := range lines {
		lines[i] = strings.Repeat(string(rune('a'+i%26)), 49)
	}
	c, err := New(WithSize(200), WithOverlap(50))
	require.NoError(t, err)

	chunks, err := c.Chunk(strings.Join(lines, "\n"))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	for i := 1; i < len(chunks); i++ {
		prev, next := []rune(chunks[i-1].Content), []rune(chunks[i].Content)
		require.Equal(t, chunks[i-1].End-50, chunks[i].Start)
		assert.Equal(t, string(prev[len(prev)-50:]), string(next[:50]), "chunk %d", i)
	}
	assert.Equal(t, 200, len([]rune(chunks[0].Content)))
}

func TestChunkOneShortParagraph(t *testing.T) {
	chunks, err := newDefault(t).Chunk("  just   one\tline  ")
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, "just one line", chunks[0].Content)
}

func TestChunkEmptyText(t *testing.T) {
	_, err := newDefault(t).Chunk(" \n\n \t ")
	assert.ErrorIs(t, err, core.ErrChunking)
}

func TestChunkSealsWithOverlap(t *testing.T) {
	c, err := New(WithSize(100), WithOverlap(10))
	require.NoError(t, err)

	p1 := strings.Repeat("x", 60)
	p2 := strings.Repeat("y", 60)
	chunks, err := c.Chunk(p1 + "\n\n" + p2)
	require.NoError(t, err)

	require.Len(t, chunks, 2)
	assert.Equal(t, p1, chunks[0].Content)
	// the second buffer opens with the last 10 characters of the first
	assert.Equal(t, strings.Repeat("x", 10)+" "+p2, chunks[1].Content)
	assert.Equal(t, 50, chunks[1].Start)
}

func TestChunkNeverExceedsBudget(t *testing.T) {
	c, err := New(WithSize(200), WithOverlap(30))
	require.NoError(t, err)

	// one unbroken paragraph ten times the budget, surrounded by prose
	text := "intro paragraph\n\n" + alphabet(2000) + "\n\n" + sampleProse(40)
	chunks, err := c.Chunk(text)
	require.NoError(t, err)

	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch.Content)), 200, "chunk %d", ch.Index)
	}
}

func TestChunkReconstructsNormalizedText(t *testing.T) {
	windows := [][2]int{{2000, 150}, {300, 40}, {120, 0}, {64, 48}}
	texts := []string{
		sampleProse(200),
		"# Title\n\n" + sampleProse(30) + "\n\n" + alphabet(1500) + "\n\n\n" + sampleProse(25),
		alphabet(999),
		"short",
	}

	for _, w := range windows {
		for ti, text := range texts {
			t.Run(fmt.Sprintf("size%d_overlap%d_text%d", w[0], w[1], ti), func(t *testing.T) {
				c, err := New(WithSize(w[0]), WithOverlap(w[1]))
				require.NoError(t, err)

				chunks, err := c.Chunk(text)
				require.NoError(t, err)

				canon := []rune(Normalize(text))
				var rebuilt strings.Builder
				prevEnd := 0
				for i, ch := range chunks {
					require.Equal(t, i, ch.Index)
					require.LessOrEqual(t, ch.Start, prevEnd, "gap before chunk %d", i)
					require.Greater(t, ch.End, prevEnd, "chunk %d adds nothing", i)
					require.LessOrEqual(t, len([]rune(ch.Content)), w[0])
					require.Equal(t, squeeze(string(canon[ch.Start:ch.End])), ch.Content)

					rebuilt.WriteString(string(canon[prevEnd:ch.End]))
					prevEnd = ch.End
				}
				assert.Equal(t, string(canon), rebuilt.String())
			})
		}
	}
}

func TestChunkIsDeterministic(t *testing.T) {
	text := sampleProse(300)
	c := newDefault(t)

	a, err := c.Chunk(text)
	require.NoError(t, err)
	b, err := c.Chunk(Normalize(text))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestChunkSectionHints(t *testing.T) {
	c, err := New(WithSize(80), WithOverlap(0))
	require.NoError(t, err)

	text := "# Setup\n\n" + strings.Repeat("install things ", 4) + "\n\n## Usage\n\n" + strings.Repeat("run things ", 5)
	chunks, err := c.Chunk(text)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "Setup", chunks[0].Section)
	assert.Equal(t, "Usage", chunks[len(chunks)-1].Section)
}

func TestNormalize(t *testing.T) {
	in := "Line  one\r\nline\ttwo\r\n\r\n\r\n   \n  Second   para  "
	assert.Equal(t, "Line one\nline two\n\nSecond para", Normalize(in))
	assert.Equal(t, Normalize(in), Normalize(Normalize(in)))
}

func sampleProse(paragraphs int) string {
	words := []string{"pipeline", "document", "vector", "chunk", "overlap", "budget", "index", "catalog", "extract", "embed"}
	parts := make([]string, 0, paragraphs)
	for i := 0; i < paragraphs; i++ {
		n := 5 + (i*37)%90
		ws := make([]string, n)
		for j := range ws {
			ws[j] = words[(i+j*3)%len(words)]
		}
		parts = append(parts, strings.Join(ws, " ")+".")
	}
	return strings.Join(parts, "\n\n")
}

func spansOf(chunks []Chunk) [][2]int {
	out := make([][2]int, len(chunks))
	for i, ch := range chunks {
		out[i] = [2]int{ch.Start, ch.End}
	}
	return out
}
