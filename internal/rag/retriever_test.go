package rag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/embedding"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

type fakeLoader struct {
	chunks []string
	err    error
	calls  int32
	onLoad func()
}

func (f *fakeLoader) Load(context.Context, string) ([]string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.onLoad != nil {
		f.onLoad()
	}
	return f.chunks, f.err
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("quota exhausted")
}

// overlapStore fails the test if two replaces for one document overlap.
type overlapStore struct {
	*db.MemoryDB
	active  int32
	overlap int32
}

func (s *overlapStore) ReplaceDocument(ctx context.Context, id string, chunks []models.Chunk) error {
	if atomic.AddInt32(&s.active, 1) > 1 {
		atomic.StoreInt32(&s.overlap, 1)
	}
	time.Sleep(5 * time.Millisecond)
	defer atomic.AddInt32(&s.active, -1)
	return s.MemoryDB.ReplaceDocument(ctx, id, chunks)
}

func setup(t *testing.T, loader Loader, emb embedding.Embedder) (*Retriever, *db.MemoryDB, *models.Document) {
	t.Helper()
	mem := db.NewMemoryDB()
	r := NewRetriever(logger.Nop(), mem, mem, loader, emb, nil, Options{BatchSize: 2, Concurrency: 3})
	doc, err := r.Register(context.Background(), 1, "Animals", "https://files.example/animals.pdf")
	require.NoError(t, err)
	return r, mem, doc
}

func TestIndexDocumentMarksReadyAndKeepsOrder(t *testing.T) {
	loader := &fakeLoader{chunks: []string{"one", "two", "three", "four", "five"}}
	r, mem, doc := setup(t, loader, embedding.NewHashEmbedder(64))
	assert.Equal(t, models.StatusPending, doc.Status)

	var seen models.DocumentStatus
	loader.onLoad = func() {
		d, _ := mem.GetDocument(context.Background(), doc.ID)
		seen = d.Status
	}

	require.NoError(t, r.IndexDocument(context.Background(), doc.ID))

	assert.Equal(t, models.StatusIndexing, seen)
	got, _ := mem.GetDocument(context.Background(), doc.ID)
	assert.Equal(t, models.StatusReady, got.Status)

	chunks, err := mem.ListChunks(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	for i, c := range chunks {
		assert.Equal(t, i, c.Sequence)
		assert.Equal(t, loader.chunks[i], c.Text)
		want, _ := embedding.NewHashEmbedder(64).Embed(context.Background(), c.Text)
		assert.Equal(t, want, c.Vector, "vector for chunk %d must match its text", i)
	}
}

func TestIndexDocumentIsIdempotent(t *testing.T) {
	loader := &fakeLoader{chunks: []string{"a b", "c d", "e f"}}
	r, mem, doc := setup(t, loader, embedding.NewHashEmbedder(64))

	require.NoError(t, r.IndexDocument(context.Background(), doc.ID))
	first, _ := mem.ListChunks(context.Background(), doc.ID)
	require.NoError(t, r.IndexDocument(context.Background(), doc.ID))
	second, _ := mem.ListChunks(context.Background(), doc.ID)

	assert.Equal(t, first, second)
}

func TestIndexDocumentFailureIsSticky(t *testing.T) {
	loader := &fakeLoader{err: &models.FetchError{URL: "x", Err: errors.New("404")}}
	r, mem, doc := setup(t, loader, embedding.NewHashEmbedder(64))

	err := r.IndexDocument(context.Background(), doc.ID)
	var fetchErr *models.FetchError
	require.ErrorAs(t, err, &fetchErr)

	got, _ := mem.GetDocument(context.Background(), doc.ID)
	assert.Equal(t, models.StatusFailed, got.Status)

	loader.err = nil
	loader.chunks = []string{"now it works"}
	assert.ErrorIs(t, r.IndexDocument(context.Background(), doc.ID), ErrDocumentFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.calls))
}

func TestIndexDocumentEmbeddingFailureLeavesNoChunks(t *testing.T) {
	loader := &fakeLoader{chunks: []string{"a", "b", "c"}}
	r, mem, doc := setup(t, loader, failingEmbedder{embedding.NewHashEmbedder(8)})

	err := r.IndexDocument(context.Background(), doc.ID)

	var embErr *models.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	chunks, _ := mem.ListChunks(context.Background(), doc.ID)
	assert.Empty(t, chunks)
	got, _ := mem.GetDocument(context.Background(), doc.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestIndexDocumentSerialisesSameDocument(t *testing.T) {
	mem := db.NewMemoryDB()
	store := &overlapStore{MemoryDB: mem}
	loader := &fakeLoader{chunks: []string{"x", "y"}}
	r := NewRetriever(logger.Nop(), mem, store, loader, embedding.NewHashEmbedder(16), nil, Options{})
	doc, err := r.Register(context.Background(), 1, "t", "u")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.IndexDocument(context.Background(), doc.ID))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&store.overlap))
	chunks, _ := mem.ListChunks(context.Background(), doc.ID)
	assert.Len(t, chunks, 2)
}

func TestRetrieveRanksAndScopes(t *testing.T) {
	loader := &fakeLoader{chunks: []string{"A cat sat. ", "sat. A dog ran."}}
	r, _, doc := setup(t, loader, embedding.NewHashEmbedder(256))
	require.NoError(t, r.IndexDocument(context.Background(), doc.ID))

	other, err := r.Register(context.Background(), 1, "Other", "https://files.example/other.pdf")
	require.NoError(t, err)
	loader.chunks = []string{"cat cat cat"}
	require.NoError(t, r.IndexDocument(context.Background(), other.ID))

	got, err := r.Retrieve(context.Background(), doc.ID, "cat", 5)
	require.NoError(t, err)

	require.Len(t, got.Results, 2)
	assert.Equal(t, 0, got.Results[0].Chunk.Sequence)
	for _, res := range got.Results {
		assert.Equal(t, doc.ID, res.Chunk.DocumentID)
	}
	assert.Equal(t, "A cat sat. \n\nsat. A dog ran.", got.Context)
}

func TestRetrieveUnindexedDocumentIsEmpty(t *testing.T) {
	r, _, doc := setup(t, &fakeLoader{}, embedding.NewHashEmbedder(32))

	got, err := r.Retrieve(context.Background(), doc.ID, "anything", 5)

	require.NoError(t, err)
	assert.Empty(t, got.Results)
	assert.Equal(t, "", got.Context)
}

func TestRetrieveIsEmptyWhileReindexing(t *testing.T) {
	loader := &fakeLoader{chunks: []string{"A cat sat.", "A dog ran."}}
	r, _, doc := setup(t, loader, embedding.NewHashEmbedder(64))
	require.NoError(t, r.IndexDocument(context.Background(), doc.ID))

	var during *Retrieval
	loader.onLoad = func() {
		var err error
		during, err = r.Retrieve(context.Background(), doc.ID, "cat", 5)
		assert.NoError(t, err)
	}
	require.NoError(t, r.IndexDocument(context.Background(), doc.ID))

	require.NotNil(t, during)
	assert.Empty(t, during.Results)
	after, err := r.Retrieve(context.Background(), doc.ID, "cat", 5)
	require.NoError(t, err)
	assert.Len(t, after.Results, 2)
}

func TestRetrieveUnknownDocumentIsEmpty(t *testing.T) {
	r, _, _ := setup(t, &fakeLoader{}, embedding.NewHashEmbedder(32))

	got, err := r.Retrieve(context.Background(), "no-such-doc", "anything", 5)

	require.NoError(t, err)
	assert.Empty(t, got.Results)
}
