// postgres.go
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

type PostgresDB struct {
	db *sql.DB
}

func NewPostgresDB(connString string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("unable to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &PostgresDB{db: db}, nil
}

// Migrate creates the schema. dims fixes the width of the embedding column.
func (pg *PostgresDB) Migrate(ctx context.Context, dims int) error {
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			source_url TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS documents_owner_idx ON documents (owner_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			document_id TEXT NOT NULL,
			sequence INT NOT NULL,
			body TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (document_id, sequence)
		)`, dims),
		`CREATE TABLE IF NOT EXISTS notes (
			document_id TEXT PRIMARY KEY,
			markup TEXT NOT NULL,
			author TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			document_id TEXT,
			messages TEXT[] NOT NULL DEFAULT '{}',
			model TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS access_tokens (
			user_id BIGINT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			plan_tier TEXT NOT NULL DEFAULT 'free',
			expiration TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, q := range queries {
		if _, err := pg.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (pg *PostgresDB) CreateDocument(ctx context.Context, doc models.Document) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO documents (id, owner_id, title, source_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := pg.db.ExecContext(ctx, query, doc.ID, doc.OwnerID, doc.Title, doc.SourceURL, string(doc.Status), doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (pg *PostgresDB) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, owner_id, title, source_url, status, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	var doc models.Document
	var status string
	err := pg.db.QueryRowContext(ctx, query, id).Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.SourceURL, &status, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve document: %w", err)
	}
	doc.Status = models.DocumentStatus(status)
	return &doc, nil
}

func (pg *PostgresDB) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := pg.db.ExecContext(ctx, `UPDATE documents SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (pg *PostgresDB) CountDocumentsByOwner(ctx context.Context, ownerID int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var n int
	if err := pg.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE owner_id = $1`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// ReplaceDocument swaps a document's chunks inside one transaction. The
// advisory lock serialises concurrent replaces of the same document across
// every process sharing the database.
func (pg *PostgresDB) ReplaceDocument(ctx context.Context, documentID string, chunks []models.Chunk) error {
	tx, err := pg.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.VectorStoreError{Op: "replace", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, documentID); err != nil {
		return &models.VectorStoreError{Op: "replace", Err: fmt.Errorf("lock: %w", err)}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return &models.VectorStoreError{Op: "replace", Err: err}
	}

	if len(chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("chunks", "document_id", "sequence", "body", "embedding"))
		if err != nil {
			return &models.VectorStoreError{Op: "replace", Err: err}
		}
		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, documentID, c.Sequence, c.Text, pgvector.NewVector(c.Vector)); err != nil {
				stmt.Close()
				return &models.VectorStoreError{Op: "replace", Err: err}
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return &models.VectorStoreError{Op: "replace", Err: err}
		}
		if err := stmt.Close(); err != nil {
			return &models.VectorStoreError{Op: "replace", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.VectorStoreError{Op: "replace", Err: err}
	}
	return nil
}

func (pg *PostgresDB) Search(ctx context.Context, documentID string, vector []float32, k int) ([]models.QueryResult, error) {
	if len(vector) == 0 {
		return nil, &models.VectorStoreError{Op: "search", Err: errors.New("query vector cannot be empty")}
	}
	if k <= 0 {
		return []models.QueryResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	vec := pgvector.NewVector(vector)

	query := `
		SELECT sequence, body, 1 - (embedding <=> $2) AS score
		FROM chunks
		WHERE document_id = $1
		ORDER BY embedding <=> $2, sequence
		LIMIT $3
	`

	rows, err := pg.db.QueryContext(ctx, query, documentID, vec, k)
	if err != nil {
		return nil, &models.VectorStoreError{Op: "search", Err: err}
	}
	defer rows.Close()

	results := []models.QueryResult{}
	for rows.Next() {
		r := models.QueryResult{Chunk: models.Chunk{DocumentID: documentID}}
		var score float64
		if err := rows.Scan(&r.Chunk.Sequence, &r.Chunk.Text, &score); err != nil {
			return nil, &models.VectorStoreError{Op: "search", Err: err}
		}
		r.Score = float32(score)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.VectorStoreError{Op: "search", Err: err}
	}
	return results, nil
}

func (pg *PostgresDB) ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	rows, err := pg.db.QueryContext(ctx, `SELECT sequence, body, embedding FROM chunks WHERE document_id = $1 ORDER BY sequence`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		c := models.Chunk{DocumentID: documentID}
		var vec pgvector.Vector
		if err := rows.Scan(&c.Sequence, &c.Text, &vec); err != nil {
			return nil, err
		}
		c.Vector = vec.Slice()
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (pg *PostgresDB) SaveNote(ctx context.Context, note models.Note) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO notes (document_id, markup, author, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id) DO UPDATE
		SET markup = EXCLUDED.markup,
		    author = EXCLUDED.author,
		    updated_at = EXCLUDED.updated_at
	`
	if _, err := pg.db.ExecContext(ctx, query, note.DocumentID, note.Markup, note.Author, note.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}
	return nil
}

func (pg *PostgresDB) GetNote(ctx context.Context, documentID string) (*models.Note, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	note := models.Note{DocumentID: documentID}
	err := pg.db.QueryRowContext(ctx, `SELECT markup, author, updated_at FROM notes WHERE document_id = $1`, documentID).
		Scan(&note.Markup, &note.Author, &note.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("note for %s: %w", documentID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve note: %w", err)
	}
	return &note, nil
}

func (pg *PostgresDB) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	if id == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, COALESCE(document_id, ''), messages, model
		FROM sessions
		WHERE id = $1
	`

	var session models.ChatSession
	var messages []string

	err := pg.db.QueryRowContext(ctx, query, id).Scan(&session.ID, &session.DocumentID, pq.Array(&messages), &session.Model)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve session: %w", err)
	}

	session.Messages = messages
	return &session, nil
}

func (pg *PostgresDB) SaveSession(ctx context.Context, session models.ChatSession) error {
	if session.ID == "" {
		return errors.New("session ID cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO sessions (id, document_id, messages, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET messages = EXCLUDED.messages,
		    model = EXCLUDED.model
	`

	_, err := pg.db.ExecContext(ctx, query, session.ID, session.DocumentID, pq.Array(session.Messages), session.Model)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

func (pg *PostgresDB) GetAccessTokens(ctx context.Context) ([]models.AccessToken, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT user_id, token, plan_tier, expiration
		FROM access_tokens
		WHERE expiration > NOW();
	`

	rows, err := pg.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var accessTokens []models.AccessToken
	for rows.Next() {
		var accessToken models.AccessToken
		var tier string
		if err := rows.Scan(&accessToken.UserID, &accessToken.Token, &tier, &accessToken.Expiration); err != nil {
			return nil, fmt.Errorf("failed to scan access token: %w", err)
		}
		accessToken.PlanTier = models.PlanTier(tier)
		accessTokens = append(accessTokens, accessToken)
	}

	return accessTokens, rows.Err()
}

func (pg *PostgresDB) Close() error {
	return pg.db.Close()
}
