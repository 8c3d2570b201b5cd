package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/relaywing/mediator/internal/domain/assembler"
	"github.com/relaywing/mediator/internal/domain/credential"
)

type scriptedBackend struct {
	responses []response
	calls     int
}

type response struct {
	text string
	err  error
}

func (b *scriptedBackend) Call(ctx context.Context, credentialSecret, model, prompt string) (string, int, error) {
	r := b.responses[b.calls]
	b.calls++
	if r.err != nil {
		return "", 0, r.err
	}
	return r.text, 10, nil
}

func TestParseValidReplyShape(t *testing.T) {
	backend := &scriptedBackend{responses: []response{{text: `{"messages":["hi"],"thinking":"t"}`}}}
	pool := credential.New([]string{"k1"}, nil, zap.NewNop())
	c := New(pool, backend, PromptConfig{Model: "m"}, zap.NewNop())

	decision, err := c.Generate(context.Background(), "hello", assembler.StructuredContext{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !decision.IsReply() || decision.Messages[0] != "hi" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestParseNoReplyShape(t *testing.T) {
	backend := &scriptedBackend{responses: []response{{text: `{"reason":"quiet","thinking":"t"}`}}}
	pool := credential.New([]string{"k1"}, nil, zap.NewNop())
	c := New(pool, backend, PromptConfig{Model: "m"}, zap.NewNop())

	decision, err := c.Generate(context.Background(), "hello", assembler.StructuredContext{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if decision.IsReply() {
		t.Fatal("expected no_reply decision")
	}
	if decision.Reason != "quiet" {
		t.Fatalf("expected reason 'quiet', got %q", decision.Reason)
	}
}

func TestParseRetryThenRawTextFallback(t *testing.T) {
	backend := &scriptedBackend{responses: []response{
		{text: "not-json"},
		{text: "still-not-json"},
	}}
	pool := credential.New([]string{"k1"}, nil, zap.NewNop())
	c := New(pool, backend, PromptConfig{Model: "m"}, zap.NewNop())

	decision, err := c.Generate(context.Background(), "hello", assembler.StructuredContext{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !decision.IsReply() || len(decision.Messages) != 1 || decision.Messages[0] != "not-json" {
		t.Fatalf("expected raw-text fallback reply with the original text, got %+v", decision)
	}
	if decision.Thinking != "format fallback" {
		t.Fatalf("expected thinking='format fallback', got %q", decision.Thinking)
	}
}

func TestRetryOnTransientThenSucceeds(t *testing.T) {
	backend := &scriptedBackend{responses: []response{
		{err: errors.New("503 service unavailable")},
		{text: `{"messages":["ok"],"thinking":""}`},
	}}
	pool := credential.New([]string{"k1"}, nil, zap.NewNop())
	c := New(pool, backend, PromptConfig{Model: "m"}, zap.NewNop())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	decision, err := c.Generate(context.Background(), "hello", assembler.StructuredContext{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !decision.IsReply() || decision.Messages[0] != "ok" {
		t.Fatalf("expected eventual success, got %+v", decision)
	}
	if backend.calls != 2 {
		t.Fatalf("expected 2 calls (1 retry), got %d", backend.calls)
	}
}

func TestExhaustsRetriesOnPersistentRateLimit(t *testing.T) {
	backend := &scriptedBackend{responses: []response{
		{err: errors.New("429 too many requests")},
		{err: errors.New("429 too many requests")},
		{err: errors.New("429 too many requests")},
	}}
	pool := credential.New([]string{"k1"}, nil, zap.NewNop())
	c := New(pool, backend, PromptConfig{Model: "m"}, zap.NewNop())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	_, err := c.Generate(context.Background(), "hello", assembler.StructuredContext{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if backend.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", backend.calls)
	}
}
