package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimited_Delegates(t *testing.T) {
	var got string
	c := NewRateLimited(ClientFunc(func(_ context.Context, prompt string, _ Options) (string, error) {
		got = prompt
		return "ok", nil
	}), 0, 1)
	out, err := c.Complete(context.Background(), "hello", Options{})
	if err != nil || out != "ok" || got != "hello" {
		t.Fatalf("out=%q err=%v got=%q", out, err, got)
	}
}

func TestRateLimited_HonoursContext(t *testing.T) {
	c := NewRateLimited(ClientFunc(func(context.Context, string, Options) (string, error) {
		return "ok", nil
	}), 0.001, 1)
	// First call consumes the only token.
	if _, err := c.Complete(context.Background(), "a", Options{}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Complete(ctx, "b", Options{}); err == nil {
		t.Fatal("expected wait to fail")
	}
}

func TestClientFunc_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := ClientFunc(func(context.Context, string, Options) (string, error) { return "", boom }).
		Complete(context.Background(), "x", Options{})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}
