package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/docuchat/internal/ai"
	"github.com/seanblong/docuchat/internal/scrape"
	"github.com/seanblong/docuchat/internal/store"
)

// ErrNoContent is returned when a fetch succeeds but yields no markdown
// content to index.
var ErrNoContent = errors.New("no content could be retrieved from the URL")

// ContentFetcher is the fetch surface the pipeline depends on.
type ContentFetcher interface {
	Fetch(ctx context.Context, url, selector string) (scrape.Page, error)
}

// Pipeline turns a URL into a persisted document plus ordered, embedded
// sections.
type Pipeline struct {
	Fetcher      ContentFetcher
	Client       ai.Client
	Store        store.DocumentStore
	MaxChunkSize int
}

// New creates an ingestion pipeline with the default chunk bound.
func New(fetcher ContentFetcher, client ai.Client, st store.DocumentStore) *Pipeline {
	return &Pipeline{
		Fetcher:      fetcher,
		Client:       client,
		Store:        st,
		MaxChunkSize: DefaultMaxChunkSize,
	}
}

// Ingest fetches, chunks, embeds and persists the content behind url.
//
// The document row commits before any section does; chunks are then
// processed strictly in order and a failure on chunk i aborts chunks
// i+1..n without rolling back earlier writes. A document with fewer
// sections than chunks is therefore an observable outcome of a partial
// failure.
func (p *Pipeline) Ingest(ctx context.Context, url, selector string) error {
	page, err := p.Fetcher.Fetch(ctx, url, selector)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	if page.MarkdownContent == "" {
		return ErrNoContent
	}

	maxSize := p.MaxChunkSize
	if maxSize <= 0 {
		maxSize = DefaultMaxChunkSize
	}
	chunks := SplitIntoChunks(page.MarkdownContent, maxSize)
	log.Info().Str("url", url).Str("title", page.Title).
		Int("content_chars", len(page.MarkdownContent)).
		Int("chunks", len(chunks)).
		Msg("content fetched")

	doc, err := p.Store.CreateDocument(ctx, page.Title, url)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	for i, chunk := range chunks {
		vec, err := p.Client.Embed(chunk)
		if err != nil {
			return fmt.Errorf("embed chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if err := p.Store.CreateSection(ctx, doc.ID, chunk, vec, i); err != nil {
			return fmt.Errorf("persist section %d/%d: %w", i+1, len(chunks), err)
		}
		log.Debug().Str("document_id", doc.ID).Int("order_index", i).
			Int("chars", len(chunk)).Msg("section persisted")
	}

	log.Info().Str("document_id", doc.ID).Str("url", url).
		Int("sections", len(chunks)).Msg("document ingested")
	return nil
}
