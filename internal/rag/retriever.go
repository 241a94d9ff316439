package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/embedding"
	"github.com/Ankitmohanty2/Kagaz/internal/lock"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

// ErrDocumentFailed is returned when indexing is requested for a document
// whose previous run failed. Failed documents are re-uploaded, not retried.
var ErrDocumentFailed = errors.New("document indexing previously failed")

const contextSeparator = "\n\n"

type Loader interface {
	Load(ctx context.Context, sourceURL string) ([]string, error)
}

type Options struct {
	BatchSize   int
	Concurrency int
}

type Retriever struct {
	docs     db.DocumentRepo
	store    db.VectorStore
	loader   Loader
	embedder embedding.Embedder
	locker   lock.Locker
	opts     Options
	log      *logger.Logger
	tracer   trace.Tracer
}

// Retrieval is the outcome of one query against one document.
type Retrieval struct {
	Results []models.QueryResult
	// Context is the chunk texts in similarity order, joined by a blank line.
	Context string
}

func NewRetriever(log *logger.Logger, docs db.DocumentRepo, store db.VectorStore, loader Loader, embedder embedding.Embedder, locker lock.Locker, opts Options) *Retriever {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Retriever{
		docs:     docs,
		store:    store,
		loader:   loader,
		embedder: embedder,
		locker:   locker,
		opts:     opts,
		log:      log.With("component", "Retriever"),
		tracer:   otel.Tracer("github.com/Ankitmohanty2/Kagaz/internal/rag"),
	}
}

// Register records a new upload in the pending state. Every upload gets a
// fresh id, so re-uploading changed content never touches an existing index.
func (r *Retriever) Register(ctx context.Context, ownerID int64, title, sourceURL string) (*models.Document, error) {
	now := time.Now().UTC()
	doc := models.Document{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		SourceURL: sourceURL,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.docs.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// IndexDocument loads, embeds and stores a document. Runs for the same
// document are serialised; repeating a run yields the same index.
func (r *Retriever) IndexDocument(ctx context.Context, documentID string) (err error) {
	ctx, span := r.tracer.Start(ctx, "rag.IndexDocument", trace.WithAttributes(attribute.String("document.id", documentID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	unlock, err := r.locker.Lock(ctx, "index:"+documentID)
	if err != nil {
		return fmt.Errorf("lock document %s: %w", documentID, err)
	}
	defer unlock()

	doc, err := r.docs.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status == models.StatusFailed {
		return ErrDocumentFailed
	}

	log := r.log.With("document_id", documentID)
	start := time.Now()

	if err := r.docs.UpdateDocumentStatus(ctx, documentID, models.StatusIndexing); err != nil {
		return err
	}

	n, err := r.index(ctx, doc)
	if err != nil {
		log.Error("indexing failed", "error", err)
		// The failed status must land even if the caller has gone away.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if serr := r.docs.UpdateDocumentStatus(sctx, documentID, models.StatusFailed); serr != nil {
			log.Error("could not mark document failed", "error", serr)
		}
		return err
	}

	if err := r.docs.UpdateDocumentStatus(ctx, documentID, models.StatusReady); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("chunks", n))
	log.Info("document indexed", "chunks", n, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (r *Retriever) index(ctx context.Context, doc *models.Document) (int, error) {
	texts, err := r.loader.Load(ctx, doc.SourceURL)
	if err != nil {
		return 0, err
	}

	vectors, err := r.embedAll(ctx, texts)
	if err != nil {
		return 0, err
	}

	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{DocumentID: doc.ID, Sequence: i, Text: text, Vector: vectors[i]}
	}
	if err := r.store.ReplaceDocument(ctx, doc.ID, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// embedAll embeds batches concurrently. Each batch writes its own slot range
// so the output keeps input order.
func (r *Retriever) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for start := 0; start < len(texts); start += r.opts.BatchSize {
		end := start + r.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := r.embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), end-start)
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, asEmbeddingError(err)
	}
	return vectors, nil
}

// Retrieve returns the k chunks of documentID closest to query. An unknown
// document, or one that is not ready (pending, indexing or failed), yields an
// empty Retrieval, not an error.
func (r *Retriever) Retrieve(ctx context.Context, documentID, query string, k int) (*Retrieval, error) {
	ctx, span := r.tracer.Start(ctx, "rag.Retrieve", trace.WithAttributes(
		attribute.String("document.id", documentID),
		attribute.Int("k", k),
	))
	defer span.End()

	doc, err := r.docs.GetDocument(ctx, documentID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return &Retrieval{}, nil
	case err != nil:
		span.RecordError(err)
		return nil, err
	case doc.Status != models.StatusReady:
		span.SetAttributes(attribute.String("document.status", string(doc.Status)))
		return &Retrieval{}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		err = asEmbeddingError(err)
		span.RecordError(err)
		return nil, err
	}

	results, err := r.store.Search(ctx, documentID, vec, k)
	if err != nil {
		var vsErr *models.VectorStoreError
		if !errors.As(err, &vsErr) {
			err = &models.VectorStoreError{Op: "search", Err: err}
		}
		span.RecordError(err)
		return nil, err
	}

	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Chunk.Text
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return &Retrieval{Results: results, Context: strings.Join(texts, contextSeparator)}, nil
}

func asEmbeddingError(err error) error {
	var embErr *models.EmbeddingError
	if errors.As(err, &embErr) {
		return err
	}
	return &models.EmbeddingError{Err: err}
}
