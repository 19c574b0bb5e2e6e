package main

import (
	"context"
	"log"
	"strings"

	"github.com/seanblong/docuchat/internal/ai"
	"github.com/seanblong/docuchat/internal/config"
	"github.com/seanblong/docuchat/internal/ingest"
	"github.com/seanblong/docuchat/internal/scrape"
	"github.com/seanblong/docuchat/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("docuchat-ingest", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	if cfg.Ingest.URL == "" {
		log.Fatal("--url is required")
	}

	provider := strings.ToLower(cfg.Provider)
	log.Printf("using provider: %s", provider)
	var clientConfig *ai.ClientConfig
	switch provider {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", provider)
	}

	ctx := context.Background()

	// Initialize store
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatal(err)
	}

	if c.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	if err := st.Migrate(ctx, c.Dim()); err != nil {
		log.Fatal(err)
	}

	var renderer scrape.Renderer
	if !cfg.Scrape.RenderDisabled {
		renderer = scrape.NewRodRenderer()
	}
	fetcher, err := scrape.NewFetcher(renderer, cfg.Scrape.CacheSize)
	if err != nil {
		log.Fatal(err)
	}

	pipeline := ingest.New(fetcher, c, st)
	if cfg.Ingest.MaxChunkSize > 0 {
		pipeline.MaxChunkSize = cfg.Ingest.MaxChunkSize
	}

	urls := []string{cfg.Ingest.URL}
	if cfg.Ingest.Discover {
		urls, err = fetcher.DiscoverLinks(ctx, cfg.Ingest.URL)
		if err != nil {
			log.Fatalf("link discovery failed: %v", err)
		}
		log.Printf("discovered %d pages under %s", len(urls), cfg.Ingest.URL)
	}

	failed := 0
	for _, u := range urls {
		if err := pipeline.Ingest(ctx, u, cfg.Ingest.Selector); err != nil {
			log.Printf("ingest %s: %v", u, err)
			failed++
		}
	}
	if failed > 0 {
		log.Fatalf("%d of %d pages failed to ingest", failed, len(urls))
	}
	log.Printf("ingested %d pages", len(urls))
}
