package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/seanblong/docuchat/internal/ai"
	"github.com/seanblong/docuchat/internal/store"
	"github.com/seanblong/docuchat/pkg/models"
)

const (
	// DefaultTopSections is how many passages ground an answer.
	DefaultTopSections = 2
	// DefaultTopDocuments is how many documents the search UI shows.
	DefaultTopDocuments = 10
)

// Service embeds queries and ranks stored sections by L2 distance.
type Service struct {
	Client ai.Client
	Store  store.DocumentStore

	TopK         int
	TopDocuments int
}

// NewService creates a retrieval service with the provided AI client and store.
func NewService(client ai.Client, st store.DocumentStore) *Service {
	return &Service{
		Client:       client,
		Store:        st,
		TopK:         DefaultTopSections,
		TopDocuments: DefaultTopDocuments,
	}
}

// TopSections returns the nearest sections to the query across all
// documents, each with its source URL. Zero stored sections yields an
// empty, non-error result.
func (s *Service) TopSections(ctx context.Context, query string) ([]models.SectionMatch, error) {
	vec, err := s.embed(query)
	if err != nil {
		return nil, err
	}
	k := s.TopK
	if k <= 0 {
		k = DefaultTopSections
	}
	return s.Store.TopSections(ctx, vec, k)
}

// Search ranks documents by their single best-matching section, ascending
// by distance, each annotated with its score and full ordered section list.
func (s *Service) Search(ctx context.Context, query string) ([]models.ScoredDocument, error) {
	vec, err := s.embed(query)
	if err != nil {
		return nil, err
	}
	limit := s.TopDocuments
	if limit <= 0 {
		limit = DefaultTopDocuments
	}
	return s.Store.SearchDocuments(ctx, vec, limit)
}

func (s *Service) embed(query string) ([]float32, error) {
	vec, err := s.Client.Embed(strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}
