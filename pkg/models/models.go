package models

import "time"

// Document is one ingested URL's content.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Sections  []Section `json:"sections,omitempty"`
}

// Section is one bounded-size chunk of a document's normalized markdown.
// Sections are created during ingestion and only removed when their
// document is deleted.
type Section struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	OrderIndex int    `json:"order_index"`
	DocumentID string `json:"document_id"`
}

// ScoredDocument pairs a document with the L2 distance of its best-matching
// section to a query embedding. Lower is better.
type ScoredDocument struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// SectionMatch is a single retrieved passage used for answer grounding,
// annotated with its parent document's URL.
type SectionMatch struct {
	Content string  `json:"content"`
	URL     string  `json:"url"`
	Score   float64 `json:"score"`
}

// Chat is a conversation owned by a single user.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserLogin string    `json:"user_login"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single chat turn.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ModelType string    `json:"model_type"`
	CreatedAt time.Time `json:"created_at"`
}
