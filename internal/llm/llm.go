// Package llm is the chat and enrichment collaborator used by extraction and
// the enrichment worker. The production implementation talks to Anthropic.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/list-enricher/internal/model"
	"github.com/sells-group/list-enricher/internal/resilience"
	"github.com/sells-group/list-enricher/pkg/anthropic"
)

// Roles accepted in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest asks a model for a single completion.
type ChatRequest struct {
	WorkspaceID string
	Provider    string
	ModelName   string
	Messages    []Message
}

// ChatResponse carries the model output. Error is set when the provider
// answered but refused or truncated the completion.
type ChatResponse struct {
	Content          string
	Error            string
	PromptTokens     int64
	CompletionTokens int64
}

// EnrichOptions tune how an enriched value is requested.
type EnrichOptions struct {
	UseMarkdown bool
	DataType    model.FieldType
}

// EnrichRequest computes one field value for one item.
type EnrichRequest struct {
	File          *model.File
	ItemName      string
	LanguageModel string
	Instruction   string
	Context       []Message
	Options       EnrichOptions
}

// Service is the LLM collaborator contract.
type Service interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	EnrichedValue(ctx context.Context, req EnrichRequest) (string, error)
}

// Config for the Anthropic-backed service.
type Config struct {
	DefaultModel string
	MaxTokens    int64
	Retry        resilience.RetryConfig
}

// AnthropicService implements Service on the Anthropic Messages API.
type AnthropicService struct {
	client anthropic.Client
	cfg    Config
}

// NewAnthropicService wraps an Anthropic client.
func NewAnthropicService(client anthropic.Client, cfg Config) *AnthropicService {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = retryable
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")
	}
	return &AnthropicService{client: client, cfg: cfg}
}

// Chat sends the conversation as-is. System messages are lifted into
// system blocks.
func (s *AnthropicService) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	modelName := req.ModelName
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}
	if modelName == "" {
		return nil, eris.New("llm: no model configured")
	}
	if p := strings.ToLower(req.Provider); p != "" && p != "anthropic" {
		return nil, eris.Errorf("llm: unsupported provider %q", req.Provider)
	}

	system, msgs := split(req.Messages)
	if len(msgs) == 0 {
		return nil, eris.New("llm: chat needs at least one user message")
	}

	resp, err := resilience.DoVal(ctx, s.cfg.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     modelName,
			MaxTokens: s.cfg.MaxTokens,
			System:    system,
			Messages:  msgs,
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "llm: chat")
	}
	resp.Usage.LogCost(modelName, "chat")

	out := &ChatResponse{
		Content:          resp.Text(),
		PromptTokens:     resp.Usage.InputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.CacheCreationInputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}
	switch resp.StopReason {
	case "refusal":
		out.Error = "model refused to answer"
	case "max_tokens":
		out.Error = "response truncated at max tokens"
	}
	return out, nil
}

// EnrichedValue asks the model for a single value. Context messages come
// first, the field instruction is the final user turn.
func (s *AnthropicService) EnrichedValue(ctx context.Context, req EnrichRequest) (string, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return "", eris.New("llm: enrichment instruction is empty")
	}

	msgs := []Message{{Role: RoleSystem, Content: enrichSystemPrompt(req)}}
	msgs = append(msgs, req.Context...)
	msgs = append(msgs, Message{Role: RoleUser, Content: req.Instruction})

	resp, err := s.Chat(ctx, ChatRequest{ModelName: req.LanguageModel, Messages: msgs})
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", eris.Errorf("llm: %s", resp.Error)
	}
	return strings.TrimSpace(resp.Content), nil
}

func enrichSystemPrompt(req EnrichRequest) string {
	var b strings.Builder
	b.WriteString("You compute the value of one field for one item in a list.\n")
	if req.File != nil {
		fmt.Fprintf(&b, "The item comes from the document %q", req.File.Name)
		if req.File.LibraryName != "" {
			fmt.Fprintf(&b, " in the library %q", req.File.LibraryName)
		}
		b.WriteString(".\n")
	}
	if req.ItemName != "" && (req.File == nil || req.ItemName != req.File.Name) {
		fmt.Fprintf(&b, "The item is named %q.\n", req.ItemName)
	}
	b.WriteString("Answer with the value only. No explanation, no preamble, no quotes.\n")

	switch {
	case req.Options.DataType == model.FieldTypeNumber:
		b.WriteString("The value must be a plain number without units or thousands separators.\n")
	case req.Options.DataType == model.FieldTypeBoolean:
		b.WriteString("The value must be exactly true or false.\n")
	case req.Options.DataType.IsTemporal():
		b.WriteString("The value must be a date in ISO 8601 format.\n")
	case req.Options.UseMarkdown:
		b.WriteString("You may format the value with markdown.\n")
	default:
		b.WriteString("Use plain text without markdown formatting.\n")
	}
	b.WriteString("If the value cannot be determined from the context, answer with: unknown")
	return b.String()
}

// retryable extends the transport checks with API status codes, including
// Anthropic's 529 overloaded.
func retryable(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 529 || resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

func split(in []Message) ([]anthropic.SystemBlock, []anthropic.Message) {
	var system []anthropic.SystemBlock
	msgs := make([]anthropic.Message, 0, len(in))
	for _, m := range in {
		if m.Role == RoleSystem {
			system = append(system, anthropic.SystemBlock{Text: m.Content})
			continue
		}
		role := RoleUser
		if m.Role == RoleAssistant {
			role = RoleAssistant
		}
		msgs = append(msgs, anthropic.Message{Role: role, Content: m.Content})
	}
	return system, msgs
}
