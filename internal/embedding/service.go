package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nikhilbhutani/docingest/internal/llm"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrCountMismatch indicates the provider returned a different number of
	// vectors than texts sent.
	ErrCountMismatch = errors.New("embedding count mismatch")

	// ErrDimensionMismatch indicates vectors of inconsistent length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

const probeText = "dimension probe"

type Service struct {
	gateway     llm.Gateway
	model       string
	batchSize   int
	concurrency int
	dimension   atomic.Int64
}

// NewService wraps gw. batchSize texts go into one provider call and at most
// concurrency calls are in flight per Embed.
func NewService(gw llm.Gateway, model string, batchSize, concurrency int) *Service {
	if model == "" {
		model = gw.DefaultModel()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{gateway: gw, model: model, batchSize: batchSize, concurrency: concurrency}
}

func (s *Service) Configured() bool {
	return s.gateway.Configured()
}

func (s *Service) Model() string {
	return s.model
}

// Dimension is the vector length seen so far, or 0 before the first call.
func (s *Service) Dimension() int {
	return int(s.dimension.Load())
}

// SetDimension pins the expected vector length.
func (s *Service) SetDimension(dim int) {
	s.dimension.Store(int64(dim))
}

// Probe embeds a fixed string to learn the vector length.
func (s *Service) Probe(ctx context.Context) (int, error) {
	if dim := s.Dimension(); dim > 0 {
		return dim, nil
	}
	if _, err := s.EmbedSingle(ctx, probeText); err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}
	return s.Dimension(), nil
}

// Embed returns one vector per text, in order.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)

	for i := 0; i < len(texts); i += s.batchSize {
		start := i
		end := min(start+s.batchSize, len(texts))
		eg.Go(func() error {
			resp, err := s.gateway.Embed(gctx, llm.EmbeddingRequest{
				Model: s.model,
				Input: texts[start:end],
			})
			if err != nil {
				return fmt.Errorf("embed batch %d: %w", start/s.batchSize, err)
			}
			if len(resp.Embeddings) != end-start {
				return fmt.Errorf("%w: batch %d sent %d texts, got %d vectors",
					ErrCountMismatch, start/s.batchSize, end-start, len(resp.Embeddings))
			}
			copy(out[start:end], resp.Embeddings)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if err := s.checkDimension(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (s *Service) checkDimension(vectors [][]float32) error {
	want := s.Dimension()
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: vector %d is empty", ErrDimensionMismatch, i)
		}
		if want == 0 {
			want = len(v)
			s.dimension.CompareAndSwap(0, int64(want))
			want = s.Dimension()
		}
		if len(v) != want {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), want)
		}
	}
	return nil
}
