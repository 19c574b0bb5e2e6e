package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/docuchat/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist or does not
// belong to the caller. Ownership failures use the same error so that
// existence is not leaked across users.
var ErrNotFound = errors.New("not found")

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// DocumentStore defines the persistence surface used by ingestion and
// retrieval.
type DocumentStore interface {
	CreateDocument(ctx context.Context, title, url string) (models.Document, error)
	CreateSection(ctx context.Context, documentID, content string, embedding []float32, orderIndex int) error
	ListDocuments(ctx context.Context) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	TopSections(ctx context.Context, queryVec []float32, k int) ([]models.SectionMatch, error)
	SearchDocuments(ctx context.Context, queryVec []float32, limit int) ([]models.ScoredDocument, error)
}

// ChatStore defines the persistence surface used by the chat subsystem.
type ChatStore interface {
	CreateChat(ctx context.Context, title, userLogin string) (models.Chat, error)
	ListChats(ctx context.Context, userLogin string) ([]models.Chat, error)
	GetChat(ctx context.Context, id, userLogin string) (models.Chat, error)
	GetMessages(ctx context.Context, chatID string) ([]models.Message, error)
	RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	AddMessage(ctx context.Context, chatID, role, content, modelType string, embedding []float32) (models.Message, error)
	TouchChat(ctx context.Context, id string) error
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies necessary database migrations and schema setup.
// embedDim is the dimensionality of the configured embedding provider.
func (s *Store) Migrate(ctx context.Context, embedDim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
  id         UUID PRIMARY KEY,
  title      TEXT NOT NULL DEFAULT '',
  url        TEXT NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sections (
  id          UUID PRIMARY KEY,
  content     TEXT NOT NULL,
  embedding   vector(%d) NOT NULL,
  order_index INT NOT NULL,
  document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS sections_document_order_uidx
  ON sections (document_id, order_index);

CREATE INDEX IF NOT EXISTS sections_embedding_idx
  ON sections USING ivfflat (embedding vector_l2_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS chats (
  id         UUID PRIMARY KEY,
  title      TEXT NOT NULL DEFAULT '',
  user_login TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
  id         UUID PRIMARY KEY,
  chat_id    UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
  role       TEXT NOT NULL,
  content    TEXT NOT NULL,
  model_type TEXT NOT NULL DEFAULT '',
  embedding  vector(%d),
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS messages_chat_idx
  ON messages (chat_id, created_at);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, embedDim, embedDim))
	return err
}

// CreateDocument inserts a document row. URL uniqueness is deliberately not
// enforced; re-ingesting a URL creates a second document.
func (s *Store) CreateDocument(ctx context.Context, title, url string) (models.Document, error) {
	const q = `
		INSERT INTO documents (id, title, url)
		VALUES ($1, $2, $3)
		RETURNING id, title, url, created_at, updated_at;`

	var d models.Document
	err := s.pool.QueryRow(ctx, q, uuid.NewString(), title, url).
		Scan(&d.ID, &d.Title, &d.URL, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Document{}, err
	}
	return d, nil
}

// CreateSection inserts a section row for the given document.
func (s *Store) CreateSection(ctx context.Context, documentID, content string, embedding []float32, orderIndex int) error {
	const q = `
		INSERT INTO sections (id, content, embedding, order_index, document_id)
		VALUES ($1, $2, $3, $4, $5);`

	_, err := s.pool.Exec(ctx, q,
		uuid.NewString(), content, pgvector.NewVector(embedding), orderIndex, documentID)
	return err
}

// ListDocuments returns all documents with their sections ordered by
// order_index ascending.
func (s *Store) ListDocuments(ctx context.Context) ([]models.Document, error) {
	const q = `
		SELECT d.id, d.title, d.url, d.created_at, d.updated_at,
		       s.id, s.content, s.order_index
		FROM documents d
		LEFT JOIN sections s ON s.document_id = d.id
		ORDER BY d.created_at, d.id, s.order_index;`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []models.Document{}
	index := map[string]int{}
	for rows.Next() {
		var d models.Document
		var secID, secContent *string
		var secOrder *int
		if err := rows.Scan(&d.ID, &d.Title, &d.URL, &d.CreatedAt, &d.UpdatedAt,
			&secID, &secContent, &secOrder); err != nil {
			return nil, err
		}
		i, ok := index[d.ID]
		if !ok {
			i = len(docs)
			index[d.ID] = i
			docs = append(docs, d)
		}
		if secID != nil {
			docs[i].Sections = append(docs[i].Sections, models.Section{
				ID:         *secID,
				Content:    *secContent,
				OrderIndex: *secOrder,
				DocumentID: d.ID,
			})
		}
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document; sections cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TopSections returns the k sections nearest to queryVec across all
// documents, each annotated with its parent document's URL. Lower score is
// a closer match.
func (s *Store) TopSections(ctx context.Context, queryVec []float32, k int) ([]models.SectionMatch, error) {
	const q = `
		SELECT s.content, s.embedding <-> $1::vector AS score, d.url
		FROM sections s
		JOIN documents d ON s.document_id = d.id
		ORDER BY s.embedding <-> $1::vector
		LIMIT $2;`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SectionMatch{}
	for rows.Next() {
		var m models.SectionMatch
		if err := rows.Scan(&m.Content, &m.Score, &m.URL); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchDocuments ranks documents by the minimum distance over each
// document's own sections and returns the top documents ascending by that
// best score, each with its full ordered section list.
func (s *Store) SearchDocuments(ctx context.Context, queryVec []float32, limit int) ([]models.ScoredDocument, error) {
	const q = `
		WITH ranked AS (
			SELECT document_id, MIN(embedding <-> $1::vector) AS best_score
			FROM sections
			GROUP BY document_id
			ORDER BY best_score
			LIMIT $2
		)
		SELECT d.id, d.title, d.url, d.created_at, d.updated_at, r.best_score,
		       s.id, s.content, s.order_index
		FROM ranked r
		JOIN documents d ON d.id = r.document_id
		JOIN sections s ON s.document_id = d.id
		ORDER BY r.best_score, d.id, s.order_index;`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ScoredDocument{}
	index := map[string]int{}
	for rows.Next() {
		var d models.Document
		var score float64
		var sec models.Section
		if err := rows.Scan(&d.ID, &d.Title, &d.URL, &d.CreatedAt, &d.UpdatedAt, &score,
			&sec.ID, &sec.Content, &sec.OrderIndex); err != nil {
			return nil, err
		}
		sec.DocumentID = d.ID
		i, ok := index[d.ID]
		if !ok {
			i = len(out)
			index[d.ID] = i
			out = append(out, models.ScoredDocument{Document: d, Score: score})
		}
		out[i].Document.Sections = append(out[i].Document.Sections, sec)
	}
	return out, rows.Err()
}

// CreateChat inserts a chat owned by userLogin.
func (s *Store) CreateChat(ctx context.Context, title, userLogin string) (models.Chat, error) {
	const q = `
		INSERT INTO chats (id, title, user_login)
		VALUES ($1, $2, $3)
		RETURNING id, title, user_login, created_at, updated_at;`

	var c models.Chat
	err := s.pool.QueryRow(ctx, q, uuid.NewString(), title, userLogin).
		Scan(&c.ID, &c.Title, &c.UserLogin, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Chat{}, err
	}
	return c, nil
}

// ListChats returns userLogin's chats, most recently updated first.
func (s *Store) ListChats(ctx context.Context, userLogin string) ([]models.Chat, error) {
	const q = `
		SELECT id, title, user_login, created_at, updated_at
		FROM chats
		WHERE user_login = $1
		ORDER BY updated_at DESC;`

	rows, err := s.pool.Query(ctx, q, userLogin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Chat{}
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.UserLogin, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChat returns the chat only if it belongs to userLogin; otherwise
// ErrNotFound.
func (s *Store) GetChat(ctx context.Context, id, userLogin string) (models.Chat, error) {
	const q = `
		SELECT id, title, user_login, created_at, updated_at
		FROM chats
		WHERE id = $1 AND user_login = $2;`

	var c models.Chat
	err := s.pool.QueryRow(ctx, q, id, userLogin).
		Scan(&c.ID, &c.Title, &c.UserLogin, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Chat{}, ErrNotFound
		}
		return models.Chat{}, err
	}
	return c, nil
}

// GetMessages returns all messages of a chat, oldest first.
func (s *Store) GetMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	const q = `
		SELECT id, chat_id, role, content, model_type, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at;`

	rows, err := s.pool.Query(ctx, q, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns the last limit messages of a chat, oldest first.
func (s *Store) RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	const q = `
		SELECT id, chat_id, role, content, model_type, created_at
		FROM (
			SELECT id, chat_id, role, content, model_type, created_at
			FROM messages
			WHERE chat_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at;`

	rows, err := s.pool.Query(ctx, q, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// AddMessage inserts a message. embedding may be nil; messages without a
// vector are a valid degraded state.
func (s *Store) AddMessage(ctx context.Context, chatID, role, content, modelType string, embedding []float32) (models.Message, error) {
	const q = `
		INSERT INTO messages (id, chat_id, role, content, model_type, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, chat_id, role, content, model_type, created_at;`

	var ev any
	if embedding != nil {
		ev = pgvector.NewVector(embedding)
	} else {
		ev = (*pgvector.Vector)(nil)
	}

	var m models.Message
	err := s.pool.QueryRow(ctx, q, uuid.NewString(), chatID, role, content, modelType, ev).
		Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.ModelType, &m.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// TouchChat bumps a chat's updated_at.
func (s *Store) TouchChat(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, id)
	return err
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	out := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.ModelType, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
