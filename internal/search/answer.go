package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/docuchat/internal/ai"
	"github.com/seanblong/docuchat/pkg/models"
)

const (
	// NoDocumentsAnswer is returned when retrieval finds nothing; the
	// generator is never invoked in that case.
	NoDocumentsAnswer = "No relevant documents found for your query."
	// UnknownAnswer substitutes an empty generator response.
	UnknownAnswer = "Sorry, I don't know the answer to that."
	// GenerationFailedAnswer substitutes a generator error.
	GenerationFailedAnswer = "Sorry, I encountered an error trying to generate a response."

	// DefaultAnswerSystemPrompt keeps the generator grounded in the
	// retrieved passages.
	DefaultAnswerSystemPrompt = "You are a Q&A system. Respond concisely. Do not make it conversational. " +
		"Mention the source URL. Respond in Markdown. Respond only with content from the documents provided. " +
		"If the answer is not clear from the documents, respond with 'I don't know'."

	// maxPromptChars caps the assembled prompt. The cut happens after
	// assembly, so retrieved content can be truncated mid-passage.
	maxPromptChars = 4000
)

// Answerer grounds a generated answer in retrieved passages.
type Answerer struct {
	Service *Service
	Client  ai.Client
}

// NewAnswerer creates an Answerer over the retrieval service.
func NewAnswerer(svc *Service, client ai.Client) *Answerer {
	return &Answerer{Service: svc, Client: client}
}

// Answer answers query from the stored documents using the default system
// prompt.
func (a *Answerer) Answer(ctx context.Context, query string) (string, error) {
	return a.AnswerWith(ctx, query, "")
}

// AnswerWith answers query using a custom system prompt, or the default
// when system is empty. Retrieval and embedding failures are returned;
// generator failures and empty generations are absorbed into canned
// responses.
func (a *Answerer) AnswerWith(ctx context.Context, query, system string) (string, error) {
	matches, err := a.Service.TopSections(ctx, query)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return NoDocumentsAnswer, nil
	}

	prompt := truncatePrompt(buildPrompt(query, matches))

	if system == "" {
		system = DefaultAnswerSystemPrompt
	}
	answer, err := a.Client.Generate(ctx, system, []ai.Message{{Role: "user", Content: prompt}})
	if err != nil {
		log.Warn().Err(err).Msg("answer generation failed")
		return GenerationFailedAnswer, nil
	}
	if strings.TrimSpace(answer) == "" {
		return UnknownAnswer, nil
	}
	return answer, nil
}

// truncatePrompt caps the assembled prompt at maxPromptChars, backing up
// to a rune boundary so the cut never produces invalid UTF-8.
func truncatePrompt(prompt string) string {
	if len(prompt) <= maxPromptChars {
		return prompt
	}
	n := maxPromptChars
	for n > 0 && !utf8.RuneStart(prompt[n]) {
		n--
	}
	return prompt[:n]
}

// buildPrompt embeds the retrieved passages with explicit source-URL
// citations.
func buildPrompt(query string, matches []models.SectionMatch) string {
	var sb strings.Builder
	sb.WriteString("Provide an answer to the following: ")
	sb.WriteString(query)
	sb.WriteString("\n\nYou can use the following documents delimited by triple quotes:\n")
	for i, m := range matches {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(`"""`)
		sb.WriteString(m.Content)
		sb.WriteString(`"""`)
		sb.WriteString("\nSource URL: ")
		sb.WriteString(m.URL)
	}
	return sb.String()
}
