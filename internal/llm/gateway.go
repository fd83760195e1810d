package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// Model aliases. Callers pick a role; the gateway maps it to a configured
// model identifier and per-role defaults.
const (
	AliasPlan      = "plan"
	AliasAnswer    = "answer"
	AliasVerify    = "verify"
	AliasReasoning = "reasoning"
)

// Models maps aliases to provider model identifiers. Empty fields fall back
// to Default.
type Models struct {
	Default   string
	Plan      string
	Answer    string
	Verify    string
	Reasoning string
}

func (m Models) resolve(alias string) string {
	pick := func(s string) string {
		if s != "" {
			return s
		}
		return m.Default
	}
	switch alias {
	case AliasPlan:
		return pick(m.Plan)
	case AliasAnswer:
		return pick(m.Answer)
	case AliasVerify:
		return pick(m.Verify)
	case AliasReasoning:
		return pick(m.Reasoning)
	default:
		return m.Default
	}
}

// Request is one chat call. Either Prompt or Messages is set; when both are
// present Messages wins. Temperature nil means the alias default.
type Request struct {
	Alias           string
	System          string
	Prompt          string
	Messages        []openai.ChatCompletionMessage
	Temperature     *float32
	MaxOutputTokens int
}

// Gateway is the single entry point for model calls. It owns alias
// resolution and per-role temperature defaults so callers never touch raw
// provider requests.
type Gateway struct {
	Client ChatClient
	Models Models
}

// ErrNoContent indicates the model returned an empty completion.
var ErrNoContent = errors.New("model returned no content")

func (g *Gateway) build(req Request) (openai.ChatCompletionRequest, error) {
	if g.Client == nil {
		return openai.ChatCompletionRequest{}, errors.New("llm gateway not configured")
	}
	model := g.Models.resolve(req.Alias)
	if model == "" {
		return openai.ChatCompletionRequest{}, fmt.Errorf("no model configured for alias %q", req.Alias)
	}
	msgs := req.Messages
	if len(msgs) == 0 {
		if req.System != "" {
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
	}
	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: aliasTemperature(req.Alias),
		N:           1,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.MaxOutputTokens > 0 {
		out.MaxTokens = req.MaxOutputTokens
	}
	return out, nil
}

// aliasTemperature: plan and verify are deterministic, answer and reasoning
// run slightly warm.
func aliasTemperature(alias string) float32 {
	switch alias {
	case AliasAnswer, AliasReasoning:
		return 0.2
	default:
		// go-openai treats 0 as unset; use the library's convention.
		return 1e-8
	}
}

// Generate performs a non-streaming call and returns the completion text.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, error) {
	creq, err := g.build(req)
	if err != nil {
		return "", err
	}
	resp, err := g.Client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", req.Alias, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoContent
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrNoContent
	}
	return out, nil
}

// Stream performs a streaming call, invoking onDelta for every non-empty
// content delta, and returns the accumulated text. A non-nil error from
// onDelta aborts the stream.
func (g *Gateway) Stream(ctx context.Context, req Request, onDelta func(delta string) error) (string, error) {
	creq, err := g.build(req)
	if err != nil {
		return "", err
	}
	creq.Stream = true
	stream, err := g.Client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("chat stream (%s): %w", req.Alias, err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if sb.Len() > 0 {
				log.Warn().Err(err).Str("alias", req.Alias).Int("accumulated", sb.Len()).
					Msg("stream interrupted mid-answer")
			}
			return sb.String(), fmt.Errorf("stream recv (%s): %w", req.Alias, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return sb.String(), err
			}
		}
	}
	return sb.String(), nil
}
