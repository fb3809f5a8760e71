package generation

import (
	"testing"

	"github.com/husainf4l/rolevatev7/pkg/core"
)

func TestFactory_New(t *testing.T) {
	f := Factory{}

	p, err := f.New(t.Context(), "openai", "test-key", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New(openai) error = %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q, want openai", p.Name())
	}

	p, err = f.New(t.Context(), "gemini", "test-key", "")
	if err != nil {
		t.Fatalf("New(gemini) error = %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("Name() = %q, want gemini", p.Name())
	}
}

func TestFactory_UnknownProvider(t *testing.T) {
	f := Factory{}
	if _, err := f.New(t.Context(), "cohere", "k", ""); !core.IsType(err, core.ErrValidation) {
		t.Errorf("error = %v, want validation", err)
	}
}
