package models

import "time"

type DocumentStatus string

const (
	StatusPending  DocumentStatus = "pending"
	StatusIndexing DocumentStatus = "indexing"
	StatusReady    DocumentStatus = "ready"
	StatusFailed   DocumentStatus = "failed"
)

// Document is an uploaded PDF. Everything except Status is fixed once
// indexing has started.
type Document struct {
	ID        string         `json:"id"`
	OwnerID   int64          `json:"owner_id"`
	Title     string         `json:"title"`
	SourceURL string         `json:"source_url"`
	Status    DocumentStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Chunk is one indexed segment of a document. Sequence follows reading order.
type Chunk struct {
	DocumentID string    `json:"document_id"`
	Sequence   int       `json:"sequence"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"-"`
}

type QueryResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

type Note struct {
	DocumentID string    `json:"document_id"`
	Markup     string    `json:"markup"`
	Author     string    `json:"author"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ChatSession struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
	Messages   []string `json:"messages"`
	Model      string   `json:"model"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type PlanTier string

const (
	PlanFree PlanTier = "free"
	PlanPro  PlanTier = "pro"
)

type AccessToken struct {
	UserID     int64     `json:"id"`
	Token      string    `json:"token"`
	PlanTier   PlanTier  `json:"plan_tier"`
	Expiration time.Time `json:"expiration"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   int64    `json:"user_id"`
	PlanTier PlanTier `json:"plan_tier"`
}
