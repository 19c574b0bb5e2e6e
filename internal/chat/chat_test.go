package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/docuchat/internal/ai"
	"github.com/seanblong/docuchat/internal/search"
	"github.com/seanblong/docuchat/internal/store"
	"github.com/seanblong/docuchat/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockAIClient implements the ai.Client interface for testing
type MockAIClient struct {
	EmbedFunc    func(text string) ([]float32, error)
	GenerateFunc func(ctx context.Context, system string, msgs []ai.Message) (string, error)
}

func (m *MockAIClient) Embed(text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(text)
	}
	return []float32{0.1, 0.2}, nil
}

func (m *MockAIClient) Generate(ctx context.Context, system string, msgs []ai.Message) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, system, msgs)
	}
	return "generated reply", nil
}

func (m *MockAIClient) Dim() int { return 2 }

// storedMessage records an AddMessage call for assertions
type storedMessage struct {
	ChatID    string
	Role      string
	Content   string
	ModelType string
	Embedding []float32
}

// MockChatStore implements the store.ChatStore interface for testing
type MockChatStore struct {
	GetChatFunc        func(ctx context.Context, id, userLogin string) (models.Chat, error)
	RecentMessagesFunc func(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	AddMessageFunc     func(ctx context.Context, chatID, role, content, modelType string, embedding []float32) (models.Message, error)

	Stored  []storedMessage
	Touched []string
}

func (m *MockChatStore) CreateChat(ctx context.Context, title, userLogin string) (models.Chat, error) {
	return models.Chat{ID: "chat-1", Title: title, UserLogin: userLogin}, nil
}

func (m *MockChatStore) ListChats(ctx context.Context, userLogin string) ([]models.Chat, error) {
	return nil, nil
}

func (m *MockChatStore) GetChat(ctx context.Context, id, userLogin string) (models.Chat, error) {
	if m.GetChatFunc != nil {
		return m.GetChatFunc(ctx, id, userLogin)
	}
	return models.Chat{ID: id, UserLogin: userLogin}, nil
}

func (m *MockChatStore) GetMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	return nil, nil
}

func (m *MockChatStore) RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	if m.RecentMessagesFunc != nil {
		return m.RecentMessagesFunc(ctx, chatID, limit)
	}
	return nil, nil
}

func (m *MockChatStore) AddMessage(ctx context.Context, chatID, role, content, modelType string, embedding []float32) (models.Message, error) {
	m.Stored = append(m.Stored, storedMessage{
		ChatID: chatID, Role: role, Content: content, ModelType: modelType, Embedding: embedding,
	})
	if m.AddMessageFunc != nil {
		return m.AddMessageFunc(ctx, chatID, role, content, modelType, embedding)
	}
	return models.Message{ID: "msg-1", ChatID: chatID, Role: role, Content: content, ModelType: modelType}, nil
}

func (m *MockChatStore) TouchChat(ctx context.Context, id string) error {
	m.Touched = append(m.Touched, id)
	return nil
}

// MockDocumentStore backs the answerer used by RAG tests
type MockDocumentStore struct {
	Matches []models.SectionMatch
}

func (m *MockDocumentStore) CreateDocument(ctx context.Context, title, url string) (models.Document, error) {
	return models.Document{}, nil
}

func (m *MockDocumentStore) CreateSection(ctx context.Context, documentID, content string, embedding []float32, orderIndex int) error {
	return nil
}

func (m *MockDocumentStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	return nil, nil
}

func (m *MockDocumentStore) DeleteDocument(ctx context.Context, id string) error { return nil }

func (m *MockDocumentStore) TopSections(ctx context.Context, queryVec []float32, k int) ([]models.SectionMatch, error) {
	return m.Matches, nil
}

func (m *MockDocumentStore) SearchDocuments(ctx context.Context, queryVec []float32, limit int) ([]models.ScoredDocument, error) {
	return nil, nil
}

func newTestService(st *MockChatStore, client *MockAIClient, matches []models.SectionMatch) *Service {
	svc := search.NewService(client, &MockDocumentStore{Matches: matches})
	return NewService(st, client, search.NewAnswerer(svc, client))
}

func TestService_CreateChat_SeedsGreeting(t *testing.T) {
	st := &MockChatStore{}
	s := newTestService(st, &MockAIClient{}, nil)

	chat, err := s.CreateChat(context.Background(), "alice", "My chat")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if chat.ID != "chat-1" {
		t.Errorf("Expected chat ID 'chat-1', got %q", chat.ID)
	}

	if len(st.Stored) != 1 {
		t.Fatalf("Expected 1 seeded message, got %d", len(st.Stored))
	}
	greeting := st.Stored[0]
	if greeting.Role != "system" {
		t.Errorf("Expected system role, got %q", greeting.Role)
	}
	if greeting.Content != greetingMessage {
		t.Errorf("Expected greeting %q, got %q", greetingMessage, greeting.Content)
	}
}

func TestService_GetChat_OtherUsersChatIsNotFound(t *testing.T) {
	st := &MockChatStore{
		GetChatFunc: func(ctx context.Context, id, userLogin string) (models.Chat, error) {
			return models.Chat{}, store.ErrNotFound
		},
	}
	s := newTestService(st, &MockAIClient{}, nil)

	_, _, err := s.GetChat(context.Background(), "mallory", "chat-1")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected store.ErrNotFound, got %v", err)
	}
}

func TestService_AddMessage_EmbedsUserMessages(t *testing.T) {
	st := &MockChatStore{}
	client := &MockAIClient{
		EmbedFunc: func(text string) ([]float32, error) {
			if text != "hello there" {
				t.Errorf("Expected embed of 'hello there', got %q", text)
			}
			return []float32{0.9, 0.8}, nil
		},
	}
	s := newTestService(st, client, nil)

	if _, err := s.AddMessage(context.Background(), "alice", "chat-1", "user", "hello there", ModelTypeChat); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(st.Stored) != 1 {
		t.Fatalf("Expected 1 stored message, got %d", len(st.Stored))
	}
	if st.Stored[0].Embedding == nil {
		t.Error("Expected user message to carry an embedding")
	}
	if len(st.Touched) != 1 || st.Touched[0] != "chat-1" {
		t.Errorf("Expected chat-1 touched once, got %v", st.Touched)
	}
}

func TestService_AddMessage_SwallowsEmbedFailure(t *testing.T) {
	st := &MockChatStore{}
	client := &MockAIClient{
		EmbedFunc: func(text string) ([]float32, error) {
			return nil, errors.New("embedding service unavailable")
		},
	}
	s := newTestService(st, client, nil)

	if _, err := s.AddMessage(context.Background(), "alice", "chat-1", "user", "hello", ModelTypeChat); err != nil {
		t.Fatalf("Expected embedding failure to be swallowed, got %v", err)
	}
	if st.Stored[0].Embedding != nil {
		t.Error("Expected message stored without a vector after embed failure")
	}
}

func TestService_AddMessage_AssistantMessagesAreNotEmbedded(t *testing.T) {
	st := &MockChatStore{}
	client := &MockAIClient{
		EmbedFunc: func(text string) ([]float32, error) {
			t.Error("Assistant messages should not be embedded")
			return nil, nil
		},
	}
	s := newTestService(st, client, nil)

	if _, err := s.AddMessage(context.Background(), "alice", "chat-1", "assistant", "reply", ModelTypeChat); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestService_GenerateResponse_UnknownChat(t *testing.T) {
	st := &MockChatStore{
		GetChatFunc: func(ctx context.Context, id, userLogin string) (models.Chat, error) {
			return models.Chat{}, store.ErrNotFound
		},
	}
	s := newTestService(st, &MockAIClient{}, nil)

	_, err := s.GenerateResponse(context.Background(), "alice", "nope", "hi", false, "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected store.ErrNotFound, got %v", err)
	}
	if len(st.Stored) != 0 {
		t.Errorf("Expected no messages stored for an unknown chat, got %d", len(st.Stored))
	}
}

func TestService_GenerateResponse_Plain(t *testing.T) {
	history := []models.Message{
		{Role: "system", Content: greetingMessage},
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	st := &MockChatStore{
		RecentMessagesFunc: func(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
			if limit != defaultHistoryLimit {
				t.Errorf("Expected history limit %d, got %d", defaultHistoryLimit, limit)
			}
			return history, nil
		},
	}
	client := &MockAIClient{
		GenerateFunc: func(ctx context.Context, system string, msgs []ai.Message) (string, error) {
			if system != plainSystemPrompt {
				t.Errorf("Expected plain system prompt, got %q", system)
			}
			// System rows are filtered from the history, the new user turn
			// is appended.
			if len(msgs) != 3 {
				t.Fatalf("Expected 3 generator messages, got %d", len(msgs))
			}
			if msgs[0].Content != "earlier question" || msgs[1].Content != "earlier answer" {
				t.Errorf("Unexpected history order: %v", msgs)
			}
			if msgs[2].Role != "user" || msgs[2].Content != "new question" {
				t.Errorf("Expected trailing user turn, got %v", msgs[2])
			}
			return "fresh answer", nil
		},
	}
	s := newTestService(st, client, nil)

	resp, err := s.GenerateResponse(context.Background(), "alice", "chat-1", "new question", false, "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Content != "fresh answer" {
		t.Errorf("Expected 'fresh answer', got %q", resp.Content)
	}

	if len(st.Stored) != 2 {
		t.Fatalf("Expected user and assistant turns stored, got %d", len(st.Stored))
	}
	if st.Stored[0].Role != "user" || st.Stored[1].Role != "assistant" {
		t.Errorf("Expected user then assistant, got %q then %q", st.Stored[0].Role, st.Stored[1].Role)
	}
	if st.Stored[1].ModelType != ModelTypeChat {
		t.Errorf("Expected model type %q, got %q", ModelTypeChat, st.Stored[1].ModelType)
	}
}

func TestService_GenerateResponse_RAG(t *testing.T) {
	matches := []models.SectionMatch{
		{Content: "relevant passage", URL: "https://example.com/doc"},
	}
	st := &MockChatStore{}
	client := &MockAIClient{
		GenerateFunc: func(ctx context.Context, system string, msgs []ai.Message) (string, error) {
			if !strings.Contains(msgs[0].Content, "relevant passage") {
				t.Error("Expected the prompt grounded in the retrieved passage")
			}
			return "grounded answer", nil
		},
	}
	s := newTestService(st, client, matches)

	resp, err := s.GenerateResponse(context.Background(), "alice", "chat-1", "question", true, "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Content != "grounded answer" {
		t.Errorf("Expected 'grounded answer', got %q", resp.Content)
	}
	if st.Stored[1].ModelType != ModelTypeRAG {
		t.Errorf("Expected model type %q, got %q", ModelTypeRAG, st.Stored[1].ModelType)
	}
}

func TestService_GenerateResponse_RAGNoDocuments(t *testing.T) {
	st := &MockChatStore{}
	s := newTestService(st, &MockAIClient{}, nil)

	resp, err := s.GenerateResponse(context.Background(), "alice", "chat-1", "question", true, "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Content != search.NoDocumentsAnswer {
		t.Errorf("Expected %q, got %q", search.NoDocumentsAnswer, resp.Content)
	}
}

func TestService_GenerateResponse_GeneratorFailureBecomesApology(t *testing.T) {
	tests := []struct {
		name     string
		useRag   bool
		expected string
	}{
		{name: "plain chat", useRag: false, expected: GenerationFailedReply},
		{name: "rag", useRag: true, expected: search.GenerationFailedAnswer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &MockChatStore{}
			client := &MockAIClient{
				GenerateFunc: func(ctx context.Context, system string, msgs []ai.Message) (string, error) {
					return "", errors.New("model overloaded")
				},
			}
			matches := []models.SectionMatch{{Content: "p", URL: "u"}}
			s := newTestService(st, client, matches)

			resp, err := s.GenerateResponse(context.Background(), "alice", "chat-1", "question", tt.useRag, "")
			if err != nil {
				t.Fatalf("Expected generator failure to be absorbed, got %v", err)
			}
			if resp.Content != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, resp.Content)
			}
		})
	}
}

func TestService_GenerateResponse_EmptyGeneration(t *testing.T) {
	st := &MockChatStore{}
	client := &MockAIClient{
		GenerateFunc: func(ctx context.Context, system string, msgs []ai.Message) (string, error) {
			return "", nil
		},
	}
	s := newTestService(st, client, nil)

	resp, err := s.GenerateResponse(context.Background(), "alice", "chat-1", "question", false, "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Content != EmptyGenerationReply {
		t.Errorf("Expected %q, got %q", EmptyGenerationReply, resp.Content)
	}
}
