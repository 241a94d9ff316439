package db

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Ankitmohanty2/Kagaz/internal/models"
	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	conn *sql.DB
}

func NewSQLiteDB(dataSourceName string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, err
	}
	// One writer at a time; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	queries := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS documents (
            id TEXT PRIMARY KEY,
            owner_id INTEGER NOT NULL,
            title TEXT NOT NULL,
            source_url TEXT NOT NULL,
            status TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS chunks (
            document_id TEXT NOT NULL,
            sequence INTEGER NOT NULL,
            body TEXT NOT NULL,
            embedding BLOB NOT NULL,
            PRIMARY KEY (document_id, sequence)
        );`,
		`CREATE TABLE IF NOT EXISTS notes (
            document_id TEXT PRIMARY KEY,
            markup TEXT NOT NULL,
            author TEXT NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS sessions (
            id TEXT PRIMARY KEY,
            document_id TEXT,
            messages TEXT,
            model TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS access_tokens (
            user_id INTEGER NOT NULL,
            token TEXT NOT NULL UNIQUE,
            plan_tier TEXT NOT NULL DEFAULT 'free',
            expiration TIMESTAMP NOT NULL
        );`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SQLiteDB{conn: db}, nil
}

func (s *SQLiteDB) CreateDocument(ctx context.Context, doc models.Document) error {
	query := `INSERT INTO documents (id, owner_id, title, source_url, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.conn.ExecContext(ctx, query, doc.ID, doc.OwnerID, doc.Title, doc.SourceURL, string(doc.Status), doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT id, owner_id, title, source_url, status, created_at, updated_at FROM documents WHERE id = ?`
	var doc models.Document
	var status string
	err := s.conn.QueryRowContext(ctx, query, id).Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.SourceURL, &status, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve document: %w", err)
	}
	doc.Status = models.DocumentStatus(status)
	return &doc, nil
}

func (s *SQLiteDB) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	res, err := s.conn.ExecContext(ctx, `UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDB) CountDocumentsByOwner(ctx context.Context, ownerID int64) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE owner_id = ?`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// ReplaceDocument deletes and reinserts the document's chunks in one
// transaction.
func (s *SQLiteDB) ReplaceDocument(ctx context.Context, documentID string, chunks []models.Chunk) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &models.VectorStoreError{Op: "replace", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return &models.VectorStoreError{Op: "replace", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (document_id, sequence, body, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return &models.VectorStoreError{Op: "replace", Err: err}
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, documentID, c.Sequence, c.Text, encodeVector(c.Vector)); err != nil {
			return &models.VectorStoreError{Op: "replace", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.VectorStoreError{Op: "replace", Err: err}
	}
	return nil
}

// Search ranks in process; SQLite has no vector index here.
func (s *SQLiteDB) Search(ctx context.Context, documentID string, vector []float32, k int) ([]models.QueryResult, error) {
	if k <= 0 {
		return []models.QueryResult{}, nil
	}
	chunks, err := s.ListChunks(ctx, documentID)
	if err != nil {
		return nil, &models.VectorStoreError{Op: "search", Err: err}
	}
	return rankChunks(chunks, vector, k), nil
}

func (s *SQLiteDB) ListChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT sequence, body, embedding FROM chunks WHERE document_id = ? ORDER BY sequence`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		c := models.Chunk{DocumentID: documentID}
		var blob []byte
		if err := rows.Scan(&c.Sequence, &c.Text, &blob); err != nil {
			return nil, err
		}
		c.Vector = decodeVector(blob)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteDB) SaveNote(ctx context.Context, note models.Note) error {
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = time.Now().UTC()
	}
	query := `
    INSERT INTO notes (document_id, markup, author, updated_at) VALUES (?, ?, ?, ?)
    ON CONFLICT(document_id) DO UPDATE SET markup=excluded.markup, author=excluded.author, updated_at=excluded.updated_at
    `
	if _, err := s.conn.ExecContext(ctx, query, note.DocumentID, note.Markup, note.Author, note.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetNote(ctx context.Context, documentID string) (*models.Note, error) {
	note := models.Note{DocumentID: documentID}
	err := s.conn.QueryRowContext(ctx, `SELECT markup, author, updated_at FROM notes WHERE document_id = ?`, documentID).
		Scan(&note.Markup, &note.Author, &note.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("note for %s: %w", documentID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve note: %w", err)
	}
	return &note, nil
}

func (s *SQLiteDB) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	query := `SELECT document_id, messages, model FROM sessions WHERE id = ?`
	session := models.ChatSession{ID: id}
	var messages string
	err := s.conn.QueryRowContext(ctx, query, id).Scan(&session.DocumentID, &messages, &session.Model)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	if messages != "" {
		if err := json.Unmarshal([]byte(messages), &session.Messages); err != nil {
			return nil, fmt.Errorf("decode session messages: %w", err)
		}
	}
	return &session, nil
}

func (s *SQLiteDB) SaveSession(ctx context.Context, session models.ChatSession) error {
	if session.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	messages, err := json.Marshal(session.Messages)
	if err != nil {
		return err
	}
	query := `
    INSERT INTO sessions (id, document_id, messages, model) VALUES (?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET messages=excluded.messages, model=excluded.model
    `
	_, err = s.conn.ExecContext(ctx, query, session.ID, session.DocumentID, string(messages), session.Model)
	return err
}

func (s *SQLiteDB) AddAccessToken(ctx context.Context, token models.AccessToken) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO access_tokens (user_id, token, plan_tier, expiration) VALUES (?, ?, ?, ?)`,
		token.UserID, token.Token, string(token.PlanTier), token.Expiration)
	return err
}

func (s *SQLiteDB) GetAccessTokens(ctx context.Context) ([]models.AccessToken, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT user_id, token, plan_tier, expiration FROM access_tokens`)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var tokens []models.AccessToken
	for rows.Next() {
		var t models.AccessToken
		var tier string
		if err := rows.Scan(&t.UserID, &t.Token, &tier, &t.Expiration); err != nil {
			return nil, fmt.Errorf("failed to scan access token: %w", err)
		}
		t.PlanTier = models.PlanTier(tier)
		// expiration is filtered here; stored timestamps are text in SQLite
		if t.Expiration.After(now) {
			tokens = append(tokens, t)
		}
	}
	return tokens, rows.Err()
}

func (s *SQLiteDB) Close() error {
	return s.conn.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
