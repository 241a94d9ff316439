package db

import (
	"context"
	"sort"

	"github.com/Ankitmohanty2/Kagaz/internal/embedding"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

type DocumentRepo interface {
	CreateDocument(ctx context.Context, doc models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error
	CountDocumentsByOwner(ctx context.Context, ownerID int64) (int, error)
}

// VectorStore holds the chunks of every indexed document. ReplaceDocument
// is the only mutation and leaves either the old run or the new run for a
// document, never a mix.
type VectorStore interface {
	ReplaceDocument(ctx context.Context, documentID string, chunks []models.Chunk) error
	Search(ctx context.Context, documentID string, vector []float32, k int) ([]models.QueryResult, error)
	ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error)
}

type NoteRepo interface {
	SaveNote(ctx context.Context, note models.Note) error
	GetNote(ctx context.Context, documentID string) (*models.Note, error)
}

type SessionRepo interface {
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	SaveSession(ctx context.Context, session models.ChatSession) error
}

type TokenRepo interface {
	GetAccessTokens(ctx context.Context) ([]models.AccessToken, error)
}

type DB interface {
	DocumentRepo
	VectorStore
	NoteRepo
	SessionRepo
	TokenRepo
	Close() error
}

// rankChunks orders chunks by similarity to vector, ties by sequence.
func rankChunks(chunks []models.Chunk, vector []float32, k int) []models.QueryResult {
	results := make([]models.QueryResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, models.QueryResult{Chunk: c, Score: embedding.Cosine(vector, c.Vector)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Sequence < results[j].Chunk.Sequence
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func copyChunks(documentID string, chunks []models.Chunk) []models.Chunk {
	out := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		c.DocumentID = documentID
		c.Vector = append([]float32(nil), c.Vector...)
		out[i] = c
	}
	return out
}
