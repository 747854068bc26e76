package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"tradegpt-backend/config"
	"tradegpt-backend/internal/models"
)

const systemPrompt = `You are TradeGPT, an institutional-grade trading assistant operating on the Somnia blockchain.

IMPORTANT RULES:
1. Be conversational and answer informational questions directly (e.g. "What is ETH price?", "Should I buy now?").
2. Only provide structured trade recommendations when the user explicitly asks for a trade setup.
3. Use the market data provided for real-time analysis.
4. Format trade recommendations with **bold** labels, each on its own line with a blank line between them:

**Asset**: [symbol]

**Direction**: LONG/SHORT

**Leverage**: [number]X

**Collateral**: $[amount]

**Entry**: $[price from market data]

**Stop Loss**: $[price]

**Take Profit**: $[price]

**Risk/Reward**: [ratio]

5. When answering price questions, use the EXACT price from the market snapshot.
6. Give context for every recommendation.`

const (
	fallbackAnswer        = "Unable to process request."
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultGeminiModel    = "gemini-1.5-flash"
)

// CompletionProvider produces the assistant reply for a conversation.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, history []models.ChatMessage, snapshot models.MarketSnapshot) (string, error)
}

func snapshotNote(s models.MarketSnapshot) string {
	return fmt.Sprintf("Latest market snapshot for %s: price %v, 24h change %v%%, RSI %v.",
		s.Symbol, s.Price, s.Change24h, s.RSI)
}

// SelectProvider picks the completion backend once at startup. Gemini wins
// when both keys are present.
func SelectProvider(cfg *config.Config, logger *zap.Logger) CompletionProvider {
	if key := strings.TrimSpace(cfg.GeminiKey); len(key) > 10 {
		logger.Info("Gemini configured", zap.String("model", cfg.GeminiModel))
		return NewGeminiProvider(key, cfg.GeminiModel, "")
	}
	if key := strings.TrimSpace(cfg.OpenAIKey); len(key) > 10 && !strings.HasPrefix(key, "<replace") {
		logger.Info("OpenAI configured", zap.String("model", cfg.OpenAIModel))
		return NewOpenAIProvider(key, cfg.OpenAIModel, "")
	}
	logger.Warn("no AI provider configured, chat is disabled; set GEMINI_API_KEY or OPENAI_API_KEY")
	return DisabledProvider{}
}

// OpenAIProvider calls the chat completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds a provider. baseURL overrides the API root and is
// mostly useful against a local stub.
func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, history []models.ChatMessage, snapshot models.MarketSnapshot) (string, error) {
	answer, err := completeChat(ctx, p.client, p.model, history, snapshot)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w: %w", models.ErrExternalFetch, err)
	}
	return answer, nil
}

// GeminiProvider talks to Gemini through its OpenAI-compatible endpoint.
type GeminiProvider struct {
	client *openai.Client
	model  string
}

// NewGeminiProvider builds a provider. An empty endpoint uses Google's
// generative language API.
func NewGeminiProvider(apiKey, model, endpoint string) *GeminiProvider {
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	if model == "" {
		model = defaultGeminiModel
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(endpoint, "/")
	return &GeminiProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Complete(ctx context.Context, history []models.ChatMessage, snapshot models.MarketSnapshot) (string, error) {
	answer, err := completeChat(ctx, p.client, p.model, history, snapshot)
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w: %w", models.ErrExternalFetch, err)
	}
	return answer, nil
}

func completeChat(ctx context.Context, client *openai.Client, model string, history []models.ChatMessage, snapshot models.MarketSnapshot) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: snapshotNote(snapshot)})

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return fallbackAnswer, nil
	}
	return resp.Choices[0].Message.Content, nil
}

// DisabledProvider is used when no API key is configured. Every call fails
// with models.ErrProviderDisabled.
type DisabledProvider struct{}

func (DisabledProvider) Name() string { return "disabled" }

func (DisabledProvider) Complete(context.Context, []models.ChatMessage, models.MarketSnapshot) (string, error) {
	return "", fmt.Errorf("%w: add GEMINI_API_KEY or OPENAI_API_KEY to enable chat", models.ErrProviderDisabled)
}
