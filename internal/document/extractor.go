package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nikhilbhutani/docingest/pkg/textextract"
)

// TextExtractor turns raw document bytes into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, kind textextract.Kind) (*textextract.ExtractedText, error)
	SupportedTypes() []string
}

type parseFunc func(data io.ReaderAt, size int64, kind textextract.Kind) (*textextract.ExtractedText, error)

type extractor struct {
	timeout time.Duration
	parse   parseFunc
}

// NewTextExtractor bounds each extraction by timeout. A zero timeout relies
// on the caller's context alone.
//
// The parsers take no context. When the deadline passes Extract returns at
// once but the parser goroutine runs on until it finishes; the per-kind
// limits in textextract.MaxSize cap how long that can be. Parser panics come
// back as textextract.ErrMalformed.
func NewTextExtractor(timeout time.Duration) TextExtractor {
	return &extractor{timeout: timeout, parse: textextract.Extract}
}

type extractResult struct {
	text *textextract.ExtractedText
	err  error
}

func (e *extractor) Extract(ctx context.Context, data []byte, kind textextract.Kind) (*textextract.ExtractedText, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extract %s text: %w", kind, err)
	}
	if limit := textextract.MaxSize(kind); limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("extract %s text: %w: %d bytes, limit %d", kind, textextract.ErrTooLarge, len(data), limit)
	}

	// Buffered so an abandoned parser can still deliver and exit.
	done := make(chan extractResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- extractResult{err: fmt.Errorf("%w: %v", textextract.ErrMalformed, r)}
			}
		}()
		text, err := e.parse(bytes.NewReader(data), int64(len(data)), kind)
		done <- extractResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("extract %s text: %w", kind, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("extract %s text: %w", kind, res.err)
		}
		return res.text, nil
	}
}

func (e *extractor) SupportedTypes() []string {
	return textextract.SupportedExtensions()
}
