package chunker

import (
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidOptions is returned when size or overlap are out of range.
var ErrInvalidOptions = errors.New("chunker: size must be positive and overlap in [0, size)")

// Options controls window size and overlap, both measured in runes.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

// Segment is one chunk of text plus its rune offsets in the source.
// Start and End describe the window before whitespace trimming.
type Segment struct {
	Content string
	Index   int
	Start   int
	End     int
}

func DefaultOptions() Options {
	return Options{ChunkSize: 512, ChunkOverlap: 50}
}

func (o Options) Validate() error {
	if o.ChunkSize <= 0 || o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		return ErrInvalidOptions
	}
	return nil
}

// Split returns the trimmed chunk contents of text.
func Split(text string, size, overlap int) ([]string, error) {
	segs, err := Chunk(text, Options{ChunkSize: size, ChunkOverlap: overlap})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Content
	}
	return out, nil
}

// Chunk scans text in windows of opts.ChunkSize runes. A window that does not
// reach the end of the text is cut right after its last sentence terminator
// or line break, provided that boundary lies past the middle of the window.
// Consecutive windows share opts.ChunkOverlap runes.
func Chunk(text string, opts Options) ([]Segment, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	if len(runes) <= opts.ChunkSize {
		content := strings.TrimSpace(text)
		if content == "" {
			return nil, nil
		}
		return []Segment{{Content: content, Start: 0, End: len(runes)}}, nil
	}

	var segs []Segment
	size := opts.ChunkSize
	start := 0

	for start < len(runes) {
		end := start + size
		if end < len(runes) {
			if b := lastBoundary(runes[start:end]); b >= 0 && float64(b) > float64(size)*0.5 {
				end = start + b + 1
			}
		} else {
			end = len(runes)
		}

		content := strings.TrimFunc(string(runes[start:end]), unicode.IsSpace)
		if content != "" {
			segs = append(segs, Segment{
				Content: content,
				Index:   len(segs),
				Start:   start,
				End:     end,
			})
		}

		if end >= len(runes) {
			break
		}

		next := end - opts.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return segs, nil
}

// lastBoundary returns the offset of the last sentence terminator or line
// break in window, or -1.
func lastBoundary(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '.', '!', '?', '\n':
			return i
		}
	}
	return -1
}
