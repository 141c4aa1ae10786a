// Package ingest runs an upload through extraction, chunking, embedding and
// vector storage while holding a quota reservation for its bytes. Every exit
// after the reservation either keeps the bytes with data stored or returns
// them to the tenant.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/tenant"
	"github.com/nikhilbhutani/docingest/internal/vectorstore"
	"github.com/nikhilbhutani/docingest/pkg/chunker"
	"github.com/nikhilbhutani/docingest/pkg/textextract"
	"github.com/nikhilbhutani/docingest/pkg/tokenizer"
	"golang.org/x/sync/errgroup"
)

// pointNamespace seeds deterministic point ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docingest/points"))

// PointID is stable for a tenant, source file and chunk index, so a
// re-upload overwrites its earlier points.
func PointID(tenantID, filename string, index int) uuid.UUID {
	return uuid.NewSHA1(pointNamespace, []byte(tenantID+"|"+filename+"|"+strconv.Itoa(index)))
}

type Embedder interface {
	Configured() bool
	Model() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// PointWriter is the slice of vectorstore.Sink ingestion writes through.
type PointWriter interface {
	Upsert(ctx context.Context, namespace string, points []vectorstore.Point) error
	HasSource(ctx context.Context, namespace, sourceName string) (bool, error)
}

// Invalidator drops derived views of a tenant's documents.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string)
}

// Recorder receives pipeline measurements.
type Recorder interface {
	ObserveStage(stage string, d time.Duration)
	ObserveOutcome(outcome, stage string)
	ObserveQuotaRejection()
	AddReservedBytes(n int64)
	AddReleasedBytes(n int64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(string, time.Duration) {}
func (nopRecorder) ObserveOutcome(string, string)      {}
func (nopRecorder) ObserveQuotaRejection()             {}
func (nopRecorder) AddReservedBytes(int64)             {}
func (nopRecorder) AddReleasedBytes(int64)             {}

type Options struct {
	ChunkSize         int
	ChunkOverlap      int
	EmbedTimeout      time.Duration
	StoreTimeout      time.Duration
	RollbackTimeout   time.Duration
	UpsertBatchSize   int
	UpsertConcurrency int
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:         512,
		ChunkOverlap:      50,
		EmbedTimeout:      5 * time.Minute,
		StoreTimeout:      2 * time.Minute,
		RollbackTimeout:   10 * time.Second,
		UpsertBatchSize:   64,
		UpsertConcurrency: 4,
	}
}

type Request struct {
	TenantID    string
	Filename    string
	Description string
	Data        []byte
}

type Result struct {
	TenantID       string `json:"tenant_id"`
	Filename       string `json:"filename"`
	Kind           string `json:"kind"`
	SizeBytes      int64  `json:"size_bytes"`
	Chunks         int    `json:"chunks"`
	EmbeddingModel string `json:"embedding_model"`
	EmbeddingDim   int    `json:"embedding_dim"`
	// EstimatedTokens approximates what the embedding calls were billed for.
	EstimatedTokens int   `json:"estimated_tokens"`
	State           State `json:"state"`
	// NewDocument is false when the source name was already stored.
	NewDocument bool `json:"new_document"`
	// AccountingDegraded means the points are stored and the bytes are
	// charged but the document counter could not be updated.
	AccountingDegraded bool           `json:"accounting_degraded"`
	Tenant             *models.Tenant `json:"tenant,omitempty"`
}

type Orchestrator struct {
	tenants     tenant.Store
	extractor   document.TextExtractor
	embedder    Embedder
	points      PointWriter
	invalidator Invalidator
	recorder    Recorder
	opts        Options
	logger      *slog.Logger
}

type Option func(*Orchestrator)

func WithInvalidator(inv Invalidator) Option {
	return func(o *Orchestrator) { o.invalidator = inv }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func NewOrchestrator(
	tenants tenant.Store,
	extractor document.TextExtractor,
	embedder Embedder,
	points PointWriter,
	opts Options,
	options ...Option,
) (*Orchestrator, error) {
	if err := (chunker.Options{ChunkSize: opts.ChunkSize, ChunkOverlap: opts.ChunkOverlap}).Validate(); err != nil {
		return nil, err
	}
	def := DefaultOptions()
	if opts.RollbackTimeout <= 0 {
		opts.RollbackTimeout = def.RollbackTimeout
	}
	if opts.UpsertBatchSize <= 0 {
		opts.UpsertBatchSize = def.UpsertBatchSize
	}
	if opts.UpsertConcurrency <= 0 {
		opts.UpsertConcurrency = def.UpsertConcurrency
	}

	o := &Orchestrator{
		tenants:   tenants,
		extractor: extractor,
		embedder:  embedder,
		points:    points,
		recorder:  nopRecorder{},
		opts:      opts,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(o)
	}
	o.logger = o.logger.With("component", "ingest")
	return o, nil
}

// run tracks the pipeline position of one request.
type run struct {
	req      Request
	kind     textextract.Kind
	tenant   *models.Tenant
	state    State
	reserved bool
	started  time.Time
}

// Ingest processes one upload. Rejections return *RejectedError, downstream
// failures *FailedError. A non-nil Result is returned only on success.
func (o *Orchestrator) Ingest(ctx context.Context, req Request) (*Result, error) {
	r := &run{req: req, state: StateReceived, started: time.Now()}
	log := o.logger.With("tenant_id", req.TenantID, "filename", req.Filename, "size_bytes", len(req.Data))

	if err := o.validate(ctx, r); err != nil {
		return nil, o.rejected(log, r, err)
	}

	t, err := o.tenants.Reserve(ctx, req.TenantID, int64(len(req.Data)))
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrQuotaExceeded):
			o.recorder.ObserveQuotaRejection()
			return nil, o.rejected(log, r, reject(ErrQuotaExceeded,
				"%d bytes requested, %d of %d used", len(req.Data), r.tenant.UsedBytes, r.tenant.QuotaBytes))
		case errors.Is(err, tenant.ErrNotFound):
			return nil, o.rejected(log, r, &RejectedError{Reason: ErrTenantNotFound})
		case errors.Is(err, tenant.ErrInactive):
			return nil, o.rejected(log, r, &RejectedError{Reason: ErrTenantInactive})
		}
		// Nothing was reserved, so there is nothing to roll back.
		return nil, o.failed(ctx, log, r, StageReserve, fmt.Errorf("reserve quota: %w", err))
	}
	r.tenant = t
	r.reserved = true
	r.state = StateQuotaReserved
	o.recorder.AddReservedBytes(int64(len(req.Data)))

	stageStart := time.Now()
	extracted, err := o.extractor.Extract(ctx, req.Data, r.kind)
	if err != nil {
		return nil, o.failed(ctx, log, r, StageExtract, err)
	}
	o.advance(r, StateExtracted, StageExtract, stageStart)

	stageStart = time.Now()
	chunks, err := chunker.Split(extracted.Content, o.opts.ChunkSize, o.opts.ChunkOverlap)
	if err != nil {
		return nil, o.failed(ctx, log, r, StageChunk, err)
	}
	if len(chunks) == 0 {
		return nil, o.failed(ctx, log, r, StageExtract, ErrNoText)
	}
	o.advance(r, StateChunked, StageChunk, stageStart)

	stageStart = time.Now()
	vectors, err := o.embed(ctx, chunks)
	if err != nil {
		return nil, o.failed(ctx, log, r, StageEmbed, err)
	}
	o.advance(r, StateEmbedded, StageEmbed, stageStart)

	stageStart = time.Now()
	// Asked before writing so a re-upload is not counted as a new document.
	existed, lookupErr := o.points.HasSource(ctx, t.Namespace, req.Filename)
	if lookupErr != nil {
		log.Warn("source lookup failed, document count will not change", "error", lookupErr)
	}
	if err := o.store(ctx, r, chunks, vectors); err != nil {
		return nil, o.failed(ctx, log, r, StageStore, err)
	}
	o.advance(r, StateStored, StageStore, stageStart)

	res := &Result{
		TenantID:        req.TenantID,
		Filename:        req.Filename,
		Kind:            string(r.kind),
		SizeBytes:       int64(len(req.Data)),
		Chunks:          len(chunks),
		EmbeddingModel:  o.embedder.Model(),
		EmbeddingDim:    len(vectors[0]),
		EstimatedTokens: tokenizer.EstimateAll(chunks),
		NewDocument:     lookupErr == nil && !existed,
		Tenant:          t,
	}

	stageStart = time.Now()
	switch {
	case lookupErr != nil:
		res.AccountingDegraded = true
	case res.NewDocument:
		updated, err := o.tenants.IncrementDocumentCount(context.WithoutCancel(ctx), req.TenantID)
		if err != nil {
			log.Error("document count update failed", "error", err)
			res.AccountingDegraded = true
		} else {
			res.Tenant = updated
		}
	}
	o.advance(r, StateAccounted, StageAccount, stageStart)

	if o.invalidator != nil {
		o.invalidator.Invalidate(context.WithoutCancel(ctx), req.TenantID)
	}

	r.state = StateDone
	res.State = StateDone
	o.recorder.ObserveOutcome(string(StateDone), string(StateAccounted))
	log.Info("document ingested",
		"chunks", res.Chunks,
		"new_document", res.NewDocument,
		"accounting_degraded", res.AccountingDegraded,
		"duration", time.Since(r.started))
	return res, nil
}

func (o *Orchestrator) validate(ctx context.Context, r *run) error {
	req := r.req
	t, err := o.tenants.Get(ctx, req.TenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return reject(ErrTenantNotFound, "%s", req.TenantID)
		}
		return fmt.Errorf("load tenant: %w", err)
	}
	r.tenant = t
	if !t.Active {
		return reject(ErrTenantInactive, "%s", req.TenantID)
	}

	kind, ok := textextract.KindFromFilename(req.Filename)
	if !ok {
		return reject(ErrUnsupportedKind, "%q, expected one of %s",
			req.Filename, strings.Join(textextract.SupportedExtensions(), ", "))
	}
	r.kind = kind

	if !o.embedder.Configured() {
		return &RejectedError{Reason: ErrGatewayUnconfigured}
	}
	if strings.TrimSpace(req.Filename) == "" || len(req.Data) == 0 {
		return &RejectedError{Reason: ErrEmptyDocument}
	}
	if limit := textextract.MaxSize(kind); int64(len(req.Data)) > limit {
		return reject(ErrDocumentTooLarge, "%s is limited to %d bytes", kind, limit)
	}

	r.state = StateValidated
	return nil
}

func (o *Orchestrator) embed(ctx context.Context, chunks []string) ([][]float32, error) {
	if o.opts.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.EmbedTimeout)
		defer cancel()
	}
	vectors, err := o.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	return vectors, nil
}

func (o *Orchestrator) store(ctx context.Context, r *run, chunks []string, vectors [][]float32) error {
	if o.opts.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.StoreTimeout)
		defer cancel()
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, text := range chunks {
		points[i] = vectorstore.Point{
			ID:     PointID(r.req.TenantID, r.req.Filename, i),
			Vector: vectors[i],
			Payload: models.ChunkPayload{
				TenantID:    r.req.TenantID,
				SourceName:  r.req.Filename,
				Text:        text,
				ChunkIndex:  i,
				ChunkTotal:  len(chunks),
				Description: r.req.Description,
				SizeBytes:   int64(len(r.req.Data)),
				Kind:        string(r.kind),
			},
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(o.opts.UpsertConcurrency)
	size := o.opts.UpsertBatchSize
	for start := 0; start < len(points); start += size {
		batch := points[start:min(start+size, len(points))]
		eg.Go(func() error {
			if err := o.points.Upsert(gctx, r.tenant.Namespace, batch); err != nil {
				return fmt.Errorf("upsert chunks %d-%d: %w", batch[0].Payload.ChunkIndex, batch[len(batch)-1].Payload.ChunkIndex, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func (o *Orchestrator) advance(r *run, next State, stage Stage, since time.Time) {
	r.state = next
	o.recorder.ObserveStage(string(stage), time.Since(since))
}

func (o *Orchestrator) rejected(log *slog.Logger, r *run, err error) error {
	var rej *RejectedError
	if !errors.As(err, &rej) {
		// Store errors during validation are downstream failures.
		o.recorder.ObserveOutcome(string(StateFailed), string(r.state))
		log.Error("ingestion failed", "stage", StageValidate, "error", err)
		return &FailedError{Stage: StageValidate, Err: err}
	}
	o.recorder.ObserveOutcome(string(StateRejected), string(r.state))
	log.Info("ingestion rejected", "reason", rej.Error())
	r.state = StateRejected
	return rej
}

// failed rolls back any reservation on a context the caller cannot cancel.
func (o *Orchestrator) failed(ctx context.Context, log *slog.Logger, r *run, stage Stage, cause error) error {
	o.recorder.ObserveOutcome(string(StateFailed), string(r.state))
	log.Error("ingestion failed", "stage", stage, "state", r.state, "error", cause)

	if r.reserved {
		o.release(ctx, log, r)
	}
	r.state = StateFailed
	return &FailedError{Stage: stage, Err: cause}
}

func (o *Orchestrator) release(ctx context.Context, log *slog.Logger, r *run) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.RollbackTimeout)
	defer cancel()

	n := int64(len(r.req.Data))
	if _, err := o.tenants.Release(rctx, r.req.TenantID, n); err != nil {
		log.Error("quota rollback failed, usage must be reconciled", "bytes", n, "error", err)
		return
	}
	r.reserved = false
	o.recorder.AddReleasedBytes(n)
	log.Info("quota reservation released", "bytes", n)
}
