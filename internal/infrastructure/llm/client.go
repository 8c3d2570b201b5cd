// Package llm implements the LLM client (C2): prompt construction, credential
// rotation through C1, exponential-backoff retry, and structured reply
// parsing with a one-shot reformat retry and raw-text fallback.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaywing/mediator/internal/domain/assembler"
	"github.com/relaywing/mediator/internal/domain/credential"
	"github.com/relaywing/mediator/internal/domain/entity"
)

// Backend is the external "LLM backend" contract (§6): a prompt in, a text
// completion and a token estimate out. Rate-limit and auth failures must be
// distinguishable in the returned error's message so ClassifyError can
// pattern-match them.
type Backend interface {
	Call(ctx context.Context, credentialSecret, model, prompt string) (text string, tokensUsed int, err error)
}

// PromptConfig supplies the persona/style text this core treats as an
// external collaborator (§1) — the client only concatenates it, never
// generates or validates its contents.
type PromptConfig struct {
	PersonaText  string
	TraitGuidance []string
	BotIdentity  string
	Model        string
}

const (
	maxAttempts  = 3
	baseDelay    = time.Second
	maxDelay     = 10 * time.Second
)

// Client implements C2.
type Client struct {
	creds   *credential.Pool
	backend Backend
	cfg     PromptConfig
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error
}

// New constructs a Client.
func New(creds *credential.Pool, backend Backend, cfg PromptConfig, logger *zap.Logger) *Client {
	return &Client{
		creds:   creds,
		backend: backend,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "llm-client")),
		sleep:   ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type replyShape struct {
	Messages []string `json:"messages"`
	Thinking string   `json:"thinking"`
}

type noReplyShape struct {
	Reason   string `json:"reason"`
	Thinking string `json:"thinking"`
}

// Generate implements §4.2: builds the prompt, acquires a credential,
// calls the backend with up to 3 attempts under exponential backoff with
// jitter, and parses the structured reply.
func (c *Client) Generate(ctx context.Context, userMessage string, structuredContext assembler.StructuredContext) (entity.LLMDecision, error) {
	prompt := c.buildPrompt(userMessage, structuredContext, "")

	text, tokens, err := c.callWithRetry(ctx, prompt)
	if err != nil {
		return entity.LLMDecision{}, err
	}

	decision, parseErr := parseDecision(text)
	if parseErr == nil {
		decision.TokensUsed = tokens
		return decision, nil
	}

	c.logger.Warn("reply failed to parse, issuing one-shot reformat retry", zap.Error(parseErr))
	reformatPrompt := c.buildPrompt(userMessage, structuredContext, text)
	retryText, retryTokens, retryErr := c.callWithRetry(ctx, reformatPrompt)
	if retryErr == nil {
		if decision, err := parseDecision(retryText); err == nil {
			decision.TokensUsed = retryTokens
			return decision, nil
		}
	}

	c.logger.Warn("reformat retry also failed to parse, falling back to raw text reply")
	return entity.LLMDecision{
		Kind:       entity.DecisionReply,
		Messages:   []string{text},
		Thinking:   "format fallback",
		TokensUsed: tokens,
	}, nil
}

// Probe performs a single, non-retried call to the backend to verify it is
// reachable at startup. A failure here is non-fatal: the orchestrator starts
// in a degraded state rather than refusing to boot.
func (c *Client) Probe(ctx context.Context) error {
	cred, err := c.creds.Acquire()
	if err != nil {
		return err
	}
	_, _, err = c.backend.Call(ctx, cred.Secret, c.cfg.Model, "ping")
	if err != nil {
		c.creds.ReportOutcome(cred, credential.OutcomeOther)
		return err
	}
	c.creds.ReportOutcome(cred, credential.OutcomeSuccess)
	return nil
}

func (c *Client) buildPrompt(userMessage string, ctxData assembler.StructuredContext, malformed string) string {
	var b strings.Builder
	b.WriteString(c.cfg.PersonaText)
	b.WriteString("\n")
	for _, t := range c.cfg.TraitGuidance {
		b.WriteString("- ")
		b.WriteString(t)
		b.WriteString("\n")
	}
	b.WriteString("Bot identity: ")
	b.WriteString(c.cfg.BotIdentity)
	b.WriteString("\n")

	ctxJSON, _ := json.Marshal(ctxData)
	b.WriteString("Context: ")
	b.Write(ctxJSON)
	b.WriteString("\n")
	b.WriteString("Message: ")
	b.WriteString(userMessage)
	b.WriteString("\n")

	if malformed != "" {
		b.WriteString("Your previous reply did not parse as JSON:\n")
		b.WriteString(malformed)
		b.WriteString("\nReformat it strictly as one of the two permitted JSON shapes.\n")
	}

	b.WriteString(`Reply with JSON only, one of: {"messages": ["..."], "thinking": "..."} or {"reason": "...", "thinking": "..."}`)
	return b.String()
}

func (c *Client) callWithRetry(ctx context.Context, prompt string) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cred, err := c.creds.Acquire()
		if err != nil {
			return "", 0, err
		}

		text, tokens, err := c.backend.Call(ctx, cred.Secret, c.cfg.Model, prompt)
		if err == nil {
			c.creds.ReportOutcome(cred, credential.OutcomeSuccess)
			return text, tokens, nil
		}

		classified := ClassifyError(err, "")
		lastErr = classified

		if classified.Kind == KindRateLimited {
			c.creds.ReportOutcome(cred, credential.OutcomeRateLimited)
		} else {
			c.creds.ReportOutcome(cred, credential.OutcomeOther)
		}

		c.logger.Warn("llm call failed",
			zap.Int("attempt", attempt),
			zap.String("kind", classified.Kind.String()),
			zap.Error(err))

		if !classified.Kind.IsRetryable() || attempt == maxAttempts {
			break
		}

		if classified.Kind.RotatesCredential() {
			c.creds.ForceAdvance()
		}

		delay := backoffWithJitter(attempt)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return "", 0, sleepErr
		}
	}
	return "", 0, fmt.Errorf("llm call exhausted %d attempts: %w", maxAttempts, lastErr)
}

func backoffWithJitter(attempt int) time.Duration {
	base := baseDelay * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	d := base + jitter
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

func parseDecision(text string) (entity.LLMDecision, error) {
	cleaned := stripCodeFence(text)

	var reply replyShape
	if err := json.Unmarshal([]byte(cleaned), &reply); err == nil && len(reply.Messages) > 0 {
		return entity.LLMDecision{
			Kind:     entity.DecisionReply,
			Messages: reply.Messages,
			Thinking: reply.Thinking,
		}, nil
	}

	var noReply noReplyShape
	if err := json.Unmarshal([]byte(cleaned), &noReply); err == nil && noReply.Reason != "" {
		return entity.LLMDecision{
			Kind:     entity.DecisionNoReply,
			Reason:   noReply.Reason,
			Thinking: noReply.Thinking,
		}, nil
	}

	return entity.LLMDecision{}, fmt.Errorf("response does not conform to either JSON shape")
}

func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}
