package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ankitmohanty2/Kagaz/internal/auth"
	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubIndexer registers straight into the store; Register pauses so that
// concurrent uploads overlap.
type stubIndexer struct {
	store      *db.MemoryDB
	onRegister func()

	mu        sync.Mutex
	indexErrs []error
}

func (s *stubIndexer) Register(ctx context.Context, ownerID int64, title, sourceURL string) (*models.Document, error) {
	time.Sleep(2 * time.Millisecond)
	doc := models.Document{ID: uuid.NewString(), OwnerID: ownerID, Title: title, SourceURL: sourceURL, Status: models.StatusPending}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	if s.onRegister != nil {
		s.onRegister()
	}
	return &doc, nil
}

func (s *stubIndexer) IndexDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	s.indexErrs = append(s.indexErrs, ctx.Err())
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.UpdateDocumentStatus(ctx, id, models.StatusReady)
}

func documentRouter(h *DocumentHandler, p models.Principal) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Next()
	})
	r.POST("/documents", h.AddDocument)
	return r
}

func uploadRequest(ctx context.Context) *http.Request {
	body := `{"title":"Report","source_url":"https://files.example/report.pdf"}`
	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(body)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestConcurrentUploadsStayWithinFreeQuota(t *testing.T) {
	store := db.NewMemoryDB()
	indexer := &stubIndexer{store: store}
	h := NewDocumentHandler(logger.Nop(), indexer, store, &auth.Quota{Docs: store, FreeUploads: 5}, nil)
	router := documentRouter(h, models.Principal{UserID: 7, PlanTier: models.PlanFree})

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, uploadRequest(context.Background()))
			mu.Lock()
			codes[rec.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, codes[http.StatusCreated])
	assert.Equal(t, 15, codes[http.StatusPaymentRequired])
	n, err := store.CountDocumentsByOwner(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestIndexingSurvivesClientDisconnect(t *testing.T) {
	store := db.NewMemoryDB()
	ctx, disconnect := context.WithCancel(context.Background())
	defer disconnect()
	indexer := &stubIndexer{store: store, onRegister: disconnect}
	h := NewDocumentHandler(logger.Nop(), indexer, store, &auth.Quota{Docs: store, FreeUploads: 5}, nil)
	router := documentRouter(h, models.Principal{UserID: 7, PlanTier: models.PlanFree})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(ctx))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []error{nil}, indexer.indexErrs)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)
}
