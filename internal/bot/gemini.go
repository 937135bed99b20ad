package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mossy-p/conversa/config"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const breakerFailures = 5

// Gemini answers prompts with Google's generative models. Calls go through a
// circuit breaker so an unavailable API fails fast instead of piling up
// socket handlers.
type Gemini struct {
	generate func(ctx context.Context, contents []*genai.Content) (string, error)
	cb       *gobreaker.CircuitBreaker
	log      *zap.Logger
}

func NewGemini(ctx context.Context, cfg config.BotConfig, logger *zap.Logger, opts ...genai.HTTPOptions) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if len(opts) > 0 {
		cc.HTTPOptions = opts[0]
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	genCfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(cfg.MaxOutputTokens)}
	log := logger.Named("bot")
	return &Gemini{
		generate: func(ctx context.Context, contents []*genai.Content) (string, error) {
			resp, err := client.Models.GenerateContent(ctx, cfg.Model, contents, genCfg)
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		},
		cb:  newBreaker(log, 30*time.Second),
		log: log,
	}, nil
}

func newBreaker(log *zap.Logger, timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

func (g *Gemini) Respond(ctx context.Context, history []Turn, prompt string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(t.Text, genai.Role(t.Role)))
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.generate(ctx, contents)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.log.Warn("bot unavailable, breaker open")
		}
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	return strings.TrimSpace(out.(string)), nil
}
