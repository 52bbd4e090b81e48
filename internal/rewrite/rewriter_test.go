package rewrite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/gamerec/internal/session"
)

type mockGenerator struct {
	calls  int
	prompt string
	out    string
	err    error
}

func (m *mockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	m.calls++
	m.prompt = prompt
	return m.out, m.err
}

func TestRewrite_EmptyHistoryIsIdentity(t *testing.T) {
	m := &mockGenerator{out: "should not be used"}
	got, err := New(m).Rewrite(context.Background(), nil, "  open world RPG  ")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "  open world RPG  " {
		t.Errorf("Rewrite = %q, want input unchanged", got)
	}
	if m.calls != 0 {
		t.Errorf("model called %d times, want 0", m.calls)
	}
}

func TestRewrite_UsesHistory(t *testing.T) {
	m := &mockGenerator{out: "  cheaper open world RPG under $20\n"}
	history := []session.Turn{
		{Role: session.RoleUser, Content: "open world RPG"},
		{Role: session.RoleAssistant, Content: "Try Elden Ring."},
	}

	got, err := New(m).Rewrite(context.Background(), history, "something cheaper")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "cheaper open world RPG under $20" {
		t.Errorf("Rewrite = %q, want trimmed model output", got)
	}
	if m.calls != 1 {
		t.Fatalf("model called %d times, want 1", m.calls)
	}
	for _, want := range []string{
		"user: open world RPG\n",
		"assistant: Try Elden Ring.\n",
		"New prompt:\nsomething cheaper",
		"standalone game query",
	} {
		if !strings.Contains(m.prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, m.prompt)
		}
	}
}

func TestRewrite_PropagatesError(t *testing.T) {
	boom := errors.New("model down")
	_, err := New(&mockGenerator{err: boom}).Rewrite(context.Background(),
		[]session.Turn{{Role: session.RoleUser, Content: "x"}}, "y")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped model error", err)
	}
}

func TestFormatHistory(t *testing.T) {
	got := FormatHistory([]session.Turn{{Content: "no role"}, {Role: "assistant", Content: "a"}})
	want := "user: no role\nassistant: a\n"
	if got != want {
		t.Errorf("FormatHistory = %q, want %q", got, want)
	}
}
