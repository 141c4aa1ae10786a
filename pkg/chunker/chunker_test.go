package chunker

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_InvalidOptions(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -5, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap above size", 10, 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split("some text", tc.size, tc.overlap)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestSplit_ShortText(t *testing.T) {
	chunks, err := Split("  hello world \n", 512, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world"}, chunks)
}

func TestSplit_ShorterThanOverlap(t *testing.T) {
	chunks, err := Split("hi", 10, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, chunks)
}

func TestSplit_ExactlySize(t *testing.T) {
	text := strings.Repeat("a", 512)
	chunks, err := Split(text, 512, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{text}, chunks)
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	chunks, err := Split("", 512, 50)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = Split("   \n\t  ", 512, 50)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = Split(strings.Repeat(" \n\t", 400), 512, 50)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_NoBoundariesFallsBackToFixedCut(t *testing.T) {
	text := strings.Repeat("x", 1200)
	segs, err := Chunk(text, Options{ChunkSize: 500, ChunkOverlap: 100})
	require.NoError(t, err)
	require.Len(t, segs, 3)

	assert.Equal(t, 0, segs[0].Start)
	assert.Equal(t, 500, segs[0].End)
	assert.Equal(t, 400, segs[1].Start)
	assert.Equal(t, 900, segs[1].End)
	assert.Equal(t, 800, segs[2].Start)
	assert.Equal(t, 1200, segs[2].End)
}

func TestSplit_EarlySentenceBoundaryIgnored(t *testing.T) {
	text := "A. B. " + strings.Repeat("x", 600)
	chunks, err := Split(text, 512, 50)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	// The only terminators sit far before the midpoint, so the first window
	// is a plain fixed-size cut.
	assert.Equal(t, text[:512], chunks[0])
	assert.Equal(t, strings.Repeat("x", 144), chunks[1])
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 512)
	}
}

func TestSplit_CutsAfterLateBoundary(t *testing.T) {
	text := strings.Repeat("a", 300) + ". " + strings.Repeat("b", 400)
	chunks, err := Split(text, 512, 50)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, strings.Repeat("a", 300)+".", chunks[0])
	assert.Equal(t, strings.Repeat("a", 49)+". "+strings.Repeat("b", 400), chunks[1])
}

func TestSplit_LineBreakIsBoundary(t *testing.T) {
	text := strings.Repeat("a", 80) + "\n" + strings.Repeat("b", 80)
	chunks, err := Split(text, 100, 10)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, strings.Repeat("a", 80), chunks[0])
}

func TestChunk_StartStrictlyIncreases(t *testing.T) {
	// overlap close to size combined with a boundary cut would stall a naive
	// end-overlap advance.
	text := strings.Repeat("aaaaaa.", 40)
	segs, err := Chunk(text, Options{ChunkSize: 10, ChunkOverlap: 9})
	require.NoError(t, err)
	require.NotEmpty(t, segs)

	for i := 1; i < len(segs); i++ {
		assert.Greater(t, segs[i].Start, segs[i-1].Start, "segment %d did not advance", i)
	}
	assert.Equal(t, utf8.RuneCountInString(text), segs[len(segs)-1].End)
}

func TestChunk_IndexesAreSequential(t *testing.T) {
	text := strings.Repeat("Sentence number one. ", 100)
	segs, err := Chunk(text, Options{ChunkSize: 128, ChunkOverlap: 16})
	require.NoError(t, err)
	for i, s := range segs {
		assert.Equal(t, i, s.Index)
		assert.NotEmpty(t, s.Content)
		assert.LessOrEqual(t, utf8.RuneCountInString(s.Content), 128)
	}
}

func TestChunk_CoversEveryNonSpaceRune(t *testing.T) {
	texts := []string{
		strings.Repeat("The quick brown fox jumps. ", 60),
		strings.Repeat("line one\nline two\n\n", 80),
		"Ünïcödé sentences çan be lông! " + strings.Repeat("ğüşıöç ", 200),
		strings.Repeat("x", 2049),
		"A. B. " + strings.Repeat("x", 600),
	}
	optsList := []Options{
		{ChunkSize: 512, ChunkOverlap: 50},
		{ChunkSize: 64, ChunkOverlap: 0},
		{ChunkSize: 33, ChunkOverlap: 32},
		{ChunkSize: 100, ChunkOverlap: 60},
	}

	for _, text := range texts {
		for _, opts := range optsList {
			segs, err := Chunk(text, opts)
			require.NoError(t, err)

			runes := []rune(text)
			covered := make([]bool, len(runes))
			for _, s := range segs {
				for i := s.Start; i < s.End; i++ {
					covered[i] = true
				}
			}
			for i, r := range runes {
				if !unicode.IsSpace(r) {
					require.True(t, covered[i], "rune %d (%q) not covered with opts %+v", i, r, opts)
				}
			}
		}
	}
}

func TestChunk_ReconstructsSource(t *testing.T) {
	text := strings.Repeat("Alpha beta gamma. Delta epsilon.\n", 50)
	segs, err := Chunk(text, Options{ChunkSize: 200, ChunkOverlap: 40})
	require.NoError(t, err)

	runes := []rune(text)
	var rebuilt []rune
	pos := 0
	for _, s := range segs {
		if s.End > pos {
			from := s.Start
			if from < pos {
				from = pos
			}
			rebuilt = append(rebuilt, runes[from:s.End]...)
			pos = s.End
		}
	}
	assert.Equal(t, strings.TrimSpace(text), strings.TrimSpace(string(rebuilt)))
}

func TestChunk_ShortTextIsIdempotent(t *testing.T) {
	text := "already short"
	first, err := Split(text, 512, 50)
	require.NoError(t, err)
	second, err := Split(first[0], 512, 50)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{text}, first)
}
