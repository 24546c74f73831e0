package prompt

import (
	"errors"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
)

func TestLoadPromptSet(t *testing.T) {
	t.Parallel()

	set, err := LoadPromptSet()
	if err != nil {
		t.Fatalf("LoadPromptSet() error = %v", err)
	}
	if !strings.Contains(set.Classifier, "requires_specialist") {
		t.Fatal("classifier prompt must describe the routing decision")
	}
	for _, name := range []string{"main", "product", "billing", "platform", "analytics", "campaign"} {
		text, err := set.For(name)
		if err != nil {
			t.Fatalf("For(%q) error = %v", name, err)
		}
		if text == "" {
			t.Fatalf("For(%q) is empty", name)
		}
	}
}

func TestPromptSetForUnknown(t *testing.T) {
	t.Parallel()

	set, err := LoadPromptSet()
	if err != nil {
		t.Fatalf("LoadPromptSet() error = %v", err)
	}
	if _, err := set.For("weather"); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("For(weather) error = %v, want ErrPromptMissing", err)
	}
}
