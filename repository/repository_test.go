package repository

import (
	"context"
	"testing"

	"github.com/mohammad-safakhou/poodle/config"
	"github.com/mohammad-safakhou/poodle/internal/registry"
)

func TestNewRegistryMemory(t *testing.T) {
	for _, backend := range []string{"memory", ""} {
		b, err := NewRegistry(context.Background(), config.StorageConfig{Backend: backend})
		if err != nil {
			t.Fatalf("NewRegistry(%q): %v", backend, err)
		}
		if _, ok := b.Registry.(*registry.Memory); !ok {
			t.Fatalf("expected in-memory registry, got %T", b.Registry)
		}
		if b.Redis != nil {
			t.Fatalf("memory backend must not open redis")
		}
		if err := b.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestNewRegistryRejectsUnknownBackend(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.StorageConfig{Backend: "etcd"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestNilBackendClose(t *testing.T) {
	var b *Backend
	if err := b.Close(); err != nil {
		t.Fatalf("Close on nil backend: %v", err)
	}
}
