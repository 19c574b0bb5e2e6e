package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/docuchat/internal/ai"
	"github.com/seanblong/docuchat/internal/search"
	"github.com/seanblong/docuchat/internal/store"
	"github.com/seanblong/docuchat/pkg/models"
)

const (
	// defaultHistoryLimit caps how many prior messages feed the generator.
	defaultHistoryLimit = 20

	greetingMessage   = "How can I help you today?"
	plainSystemPrompt = "You are a helpful assistant that provides clear and concise answers."

	// ModelTypeRAG marks turns answered from the stored documents.
	ModelTypeRAG = "rag"
	// ModelTypeChat marks plain conversational turns.
	ModelTypeChat = "chat"
)

// Service implements chat conversations with an optional
// retrieval-augmented mode.
type Service struct {
	Store    store.ChatStore
	Client   ai.Client
	Answerer *search.Answerer

	HistoryLimit int
}

// NewService creates a chat service.
func NewService(st store.ChatStore, client ai.Client, answerer *search.Answerer) *Service {
	return &Service{
		Store:        st,
		Client:       client,
		Answerer:     answerer,
		HistoryLimit: defaultHistoryLimit,
	}
}

// CreateChat creates a chat for userLogin seeded with a system greeting.
func (s *Service) CreateChat(ctx context.Context, userLogin, title string) (models.Chat, error) {
	chat, err := s.Store.CreateChat(ctx, title, userLogin)
	if err != nil {
		return models.Chat{}, err
	}
	if _, err := s.Store.AddMessage(ctx, chat.ID, "system", greetingMessage, ModelTypeChat, nil); err != nil {
		return models.Chat{}, fmt.Errorf("seed greeting: %w", err)
	}
	return chat, nil
}

// ListChats returns userLogin's chats, most recently updated first.
func (s *Service) ListChats(ctx context.Context, userLogin string) ([]models.Chat, error) {
	return s.Store.ListChats(ctx, userLogin)
}

// GetChat returns a chat and its messages. A chat belonging to another user
// is reported as store.ErrNotFound.
func (s *Service) GetChat(ctx context.Context, userLogin, id string) (models.Chat, []models.Message, error) {
	chat, err := s.Store.GetChat(ctx, id, userLogin)
	if err != nil {
		return models.Chat{}, nil, err
	}
	msgs, err := s.Store.GetMessages(ctx, chat.ID)
	if err != nil {
		return models.Chat{}, nil, err
	}
	return chat, msgs, nil
}

// AddMessage appends a message to an owned chat. User messages are
// embedded; an embedding failure is swallowed and the message is stored
// without a vector.
func (s *Service) AddMessage(ctx context.Context, userLogin, chatID, role, content, modelType string) (models.Message, error) {
	if _, err := s.Store.GetChat(ctx, chatID, userLogin); err != nil {
		return models.Message{}, err
	}

	var vec []float32
	if role == "user" {
		v, err := s.Client.Embed(content)
		if err != nil {
			log.Warn().Err(err).Str("chat_id", chatID).Msg("message embedding failed, storing without vector")
		} else {
			vec = v
		}
	}

	msg, err := s.Store.AddMessage(ctx, chatID, role, content, modelType, vec)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.Store.TouchChat(ctx, chatID); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GenerateResponse stores the user's message, produces a reply (retrieval
// augmented when useRag is set, with an optional custom system prompt) and
// stores it as the assistant turn. Generator failures become an apology
// reply, never an error.
func (s *Service) GenerateResponse(ctx context.Context, userLogin, chatID, message string, useRag bool, systemPrompt string) (models.Message, error) {
	chat, err := s.Store.GetChat(ctx, chatID, userLogin)
	if err != nil {
		return models.Message{}, err
	}

	if _, err := s.Store.AddMessage(ctx, chat.ID, "user", message, "user", nil); err != nil {
		return models.Message{}, fmt.Errorf("store user message: %w", err)
	}

	modelType := ModelTypeChat
	var reply string
	if useRag {
		modelType = ModelTypeRAG
		reply, err = s.Answerer.AnswerWith(ctx, message, systemPrompt)
		if err != nil {
			log.Error().Err(err).Str("chat_id", chat.ID).Msg("rag response failed")
			reply = search.GenerationFailedAnswer
		}
	} else {
		reply = s.plainResponse(ctx, chat.ID, message)
	}

	response, err := s.Store.AddMessage(ctx, chat.ID, "assistant", reply, modelType, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("store assistant message: %w", err)
	}
	if err := s.Store.TouchChat(ctx, chat.ID); err != nil {
		return models.Message{}, err
	}
	return response, nil
}

// plainResponse generates a reply from recent chat history without
// retrieval.
func (s *Service) plainResponse(ctx context.Context, chatID, message string) string {
	limit := s.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	history, err := s.Store.RecentMessages(ctx, chatID, limit)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("loading chat history failed, continuing without it")
		history = nil
	}

	msgs := make([]ai.Message, 0, len(history)+1)
	for _, m := range history {
		if m.Role == "system" {
			continue
		}
		msgs = append(msgs, ai.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, ai.Message{Role: "user", Content: message})

	reply, err := s.Client.Generate(ctx, plainSystemPrompt, msgs)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("chat generation failed")
		return GenerationFailedReply
	}
	if reply == "" {
		return EmptyGenerationReply
	}
	return reply
}

const (
	// GenerationFailedReply substitutes a generator error on the plain
	// chat path.
	GenerationFailedReply = "Sorry, I encountered an error trying to generate a response."
	// EmptyGenerationReply substitutes an empty generation on the plain
	// chat path.
	EmptyGenerationReply = "Sorry, I couldn't generate a response."
)
