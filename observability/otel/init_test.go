package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken, =x,team=fork")
	if len(got) != 2 || got["api-key"] != "abc" || got["team"] != "fork" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestInitWithoutExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing service name")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "clonectl"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestResourceAttributes(t *testing.T) {
	attrs := Config{ServiceName: "clonectl", Environment: "ci", ChainID: "juno-1", Height: 50}.attributes()
	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}
	if attrs[3].Value.AsInt64() != 50 {
		t.Fatalf("unexpected height attribute %v", attrs[3])
	}
}
