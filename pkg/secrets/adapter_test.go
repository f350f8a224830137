package secrets

import (
	"context"
	"testing"
)

func TestEnvFallback(t *testing.T) {
	t.Setenv("PASTEKV_MAGIC", "from-environment")
	a, err := NewAdapter(context.Background())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	got, err := a.GetSecret(context.Background(), "PASTEKV_MAGIC")
	if err != nil {
		t.Fatalf("get secret: %v", err)
	}
	if got != "from-environment" {
		t.Fatalf("got %q", got)
	}
}

func TestEnvMissing(t *testing.T) {
	a, err := NewAdapter(context.Background())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if _, err := a.GetSecret(context.Background(), "PASTEKV_DOES_NOT_EXIST"); err == nil {
		t.Fatal("expected error for unset secret")
	}
}
