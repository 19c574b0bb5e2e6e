package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/docuchat/internal/ai"
	"github.com/seanblong/docuchat/internal/auth"
	"github.com/seanblong/docuchat/internal/chat"
	"github.com/seanblong/docuchat/internal/config"
	"github.com/seanblong/docuchat/internal/ingest"
	"github.com/seanblong/docuchat/internal/scrape"
	"github.com/seanblong/docuchat/internal/search"
	"github.com/seanblong/docuchat/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("docuchat-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting docuchat api")

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	// Initialize auth with configuration
	auth.InitializeAuth(
		cfg.Auth.JwtSecret,
		cfg.Auth.GithubClientID,
		cfg.Auth.GithubClientSecret,
		cfg.Auth.GithubRedirectURL,
		cfg.Auth.GithubAllowedOrg,
		cfg.Auth.Enabled,
	)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	// Use the AI client's dimension for database migration
	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	var renderer scrape.Renderer
	if !cfg.Scrape.RenderDisabled {
		renderer = scrape.NewRodRenderer()
	}
	fetcher, err := scrape.NewFetcher(renderer, cfg.Scrape.CacheSize)
	if err != nil {
		log.Fatalf("Failed to create fetcher: %v", err)
	}

	pipeline := ingest.New(fetcher, c, st)
	if cfg.Ingest.MaxChunkSize > 0 {
		pipeline.MaxChunkSize = cfg.Ingest.MaxChunkSize
	}
	svc := search.NewService(c, st)
	answerer := search.NewAnswerer(svc, c)
	chats := chat.NewService(st, c, answerer)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	// Auth status endpoint (always available)
	mux.HandleFunc("GET /auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]bool{"enabled": auth.IsAuthEnabled()})
	})

	// Authentication endpoints (only if auth is enabled)
	if auth.IsAuthEnabled() {
		log.Println("Authentication is ENABLED")
		registerAuthRoutes(mux)
	} else {
		log.Println("Authentication is DISABLED - running in open mode")
	}

	mux.HandleFunc("POST /documents", auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL      string `json:"url"`
			Selector string `json:"selector"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
			http.Error(w, "missing url", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()
		if err := pipeline.Ingest(ctx, req.URL, req.Selector); err != nil {
			if errors.Is(err, ingest.ErrNoContent) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]bool{"success": true})
	}))

	mux.HandleFunc("GET /documents", auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		docs, err := st.ListDocuments(ctx)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, docs)
	}))

	mux.HandleFunc("DELETE /documents/{id}", auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		if err := st.DeleteDocument(ctx, r.PathValue("id")); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "document not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), 500)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	mux.HandleFunc("GET /documents/candidates", auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		u := r.URL.Query().Get("url")
		if u == "" {
			http.Error(w, "missing query parameter url", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		links, err := fetcher.DiscoverLinks(ctx, u)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, links)
	}))

	mux.HandleFunc("GET /search", auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		q := r.URL.Query().Get("q")
		if q == "" {
			http.Error(w, "missing query parameter q", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		res, err := svc.Search(ctx, q)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		// never an empty body
		w.Header().Set("Content-Type", "application/json")
		if res == nil {
			if _, err := w.Write([]byte("[]")); err != nil {
				http.Error(w, "Failed to write response", http.StatusInternalServerError)
				return
			}
		} else {
			for i := range res {
				if math.IsNaN(res[i].Score) || math.IsInf(res[i].Score, 0) {
					res[i].Score = 0
				}
			}
			if err := json.NewEncoder(w).Encode(res); err != nil {
				log.Printf("failed to encode response: %v", err)
				_, _ = w.Write([]byte("[]"))
			}
		}

		hlog.FromRequest(r).Info().Str("path", "/search").Str("q", q).Dur("dur", time.Since(start)).Msg("served")
	}))

	// Browser extension endpoint. Unauthenticated, permissive CORS.
	mux.HandleFunc("OPTIONS /api/ask", func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/ask", askHandler(answerer))

	mux.HandleFunc("POST /chats", auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		ch, err := chats.CreateChat(ctx, userLogin(r), req.Title)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(ch); err != nil {
			log.Printf("failed to encode response: %v", err)
		}
	}))

	mux.HandleFunc("GET /chats", auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		list, err := chats.ListChats(ctx, userLogin(r))
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, list)
	}))

	mux.HandleFunc("GET /chats/{id}", auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		ch, msgs, err := chats.GetChat(ctx, userLogin(r), r.PathValue("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "chat not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]any{"chat": ch, "messages": msgs})
	}))

	mux.HandleFunc("POST /chats/{id}/messages", auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message      string `json:"message"`
			UseRag       bool   `json:"useRag"`
			SystemPrompt string `json:"systemPrompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
			http.Error(w, "missing message", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		msg, err := chats.GenerateResponse(ctx, userLogin(r), r.PathValue("id"), req.Message, req.UseRag, req.SystemPrompt)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "chat not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]any{"message": msg})
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func clientConfigFor(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "vertexai", "google":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}, nil
	case "stub":
		return &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// userLogin resolves the authenticated user's login, or "" in open mode.
// answerProvider is the slice of search.Answerer the ask endpoint needs.
type answerProvider interface {
	Answer(ctx context.Context, query string) (string, error)
}

// askHandler serves the browser extension's direct question endpoint. The
// request body carries {"query": ...} and the response {"answer": ...}.
func askHandler(a answerProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
			http.Error(w, "missing query", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		answer, err := a.Answer(ctx, req.Query)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]string{"answer": answer})
	}
}

func userLogin(r *http.Request) string {
	if u := auth.GetUserFromContext(r); u != nil {
		return u.Login
	}
	return ""
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", 500)
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func registerAuthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/github", func(w http.ResponseWriter, r *http.Request) {
		state := auth.GenerateState()

		// Store state in cookie for validation
		http.SetCookie(w, &http.Cookie{
			Name:     "oauth_state",
			Value:    state,
			Path:     "/",
			MaxAge:   600, // 10 minutes
			HttpOnly: true,
			Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
			SameSite: http.SameSiteLaxMode,
		})

		loginURL := auth.GetGithubLoginURL(state)
		http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("GET /auth/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")

		// Validate state
		stateCookie, err := r.Cookie("oauth_state")
		if err != nil || stateCookie.Value != state {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}

		// Clear state cookie
		http.SetCookie(w, &http.Cookie{
			Name:   "oauth_state",
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})

		if code == "" {
			http.Error(w, "Missing code parameter", http.StatusBadRequest)
			return
		}

		// Exchange code for token
		accessToken, err := auth.ExchangeCodeForToken(code)
		if err != nil {
			http.Error(w, "Failed to exchange code for token", http.StatusInternalServerError)
			return
		}

		// Get user info
		user, err := auth.GetGithubUser(accessToken)
		if err != nil {
			http.Error(w, "Failed to get user info: "+err.Error(), http.StatusInternalServerError)
			return
		}

		// Generate JWT
		token, err := auth.GenerateJWT(user)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		// Set cookie
		http.SetCookie(w, &http.Cookie{
			Name:     auth.CookieName,
			Value:    token,
			Path:     "/",
			MaxAge:   86400, // 24 hours
			HttpOnly: true,
			Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
			SameSite: http.SameSiteLaxMode,
		})

		// Return user info and token
		writeJSON(w, auth.AuthResponse{
			User:  *user,
			Token: token,
		})
	})

	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		tokenString := auth.TokenFromRequest(r)
		if tokenString == "" {
			http.Error(w, "No authentication token", http.StatusUnauthorized)
			return
		}

		user, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		writeJSON(w, auth.AuthResponse{
			User:  *user,
			Token: tokenString,
		})
	})

	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		// Clear cookie
		http.SetCookie(w, &http.Cookie{
			Name:   auth.CookieName,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})

		w.WriteHeader(http.StatusOK)
	})
}
