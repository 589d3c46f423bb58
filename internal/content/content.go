// Package content turns a reminder context into personalized message text.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	logx "carebot/pkg/logx"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("content generator not configured")

const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultTemperature = 0.8

	defaultSystemPrompt = `You write short, friendly WhatsApp reminders for the owner of a pet.
The message must feel personal and specific to the context provided.
Use the owner's language (Indonesian or English) and include relevant emojis.
Keep it short and punchy, like a chat message.
Example context: "Feeding time". Example response: "Halo! Jangan lupa kasih makan Obi biar dia tetap semangat ya! 🍽️🐠"`
)

// Request is the context handed to a Generator.
type Request struct {
	Title         string
	SubjectName   string
	SubjectKind   string
	RecipientName string
}

func (r Request) prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a personalized reminder for this context: %s", r.Title)
	if r.SubjectName != "" {
		fmt.Fprintf(&b, "\nSubject: %s", r.SubjectName)
		if r.SubjectKind != "" {
			fmt.Fprintf(&b, " (%s)", r.SubjectKind)
		}
	}
	if r.RecipientName != "" {
		fmt.Fprintf(&b, "\nRecipient: %s", r.RecipientName)
	}
	return b.String()
}

// Generator produces message text. Failures are expected; callers fall back.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Fallback is the deterministic text used when generation fails.
func Fallback(req Request) string {
	name := req.SubjectName
	if name == "" {
		name = "kamu"
	}
	return fmt.Sprintf("Halo! Waktunya %s untuk %s ya!", req.Title, name)
}

type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	SystemPrompt string
}

// OpenAI calls any OpenAI-compatible chat completion endpoint.
type OpenAI struct {
	client       *openai.Client
	model        string
	temperature  float32
	systemPrompt string
	log          logx.Logger
}

func NewOpenAI(cfg Config, log logx.Logger) *OpenAI {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &OpenAI{
		model:        strings.TrimSpace(cfg.Model),
		temperature:  float32(cfg.Temperature),
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		log:          log,
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.temperature == 0 {
		g.temperature = DefaultTemperature
	}
	if g.systemPrompt == "" {
		g.systemPrompt = defaultSystemPrompt
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		oc := openai.DefaultConfig(key)
		if base := strings.TrimSpace(cfg.BaseURL); base != "" {
			oc.BaseURL = strings.TrimRight(base, "/")
		}
		g.client = openai.NewClientWithConfig(oc)
	}
	return g
}

func (g *OpenAI) Enabled() bool { return g != nil && g.client != nil }

func (g *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	if !g.Enabled() {
		return "", ErrDisabled
	}
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.prompt()},
		},
		Temperature: g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion")
	}
	g.log.Debug("content generated", logx.String("model", g.model), logx.Int("tokens", resp.Usage.TotalTokens))
	return text, nil
}
