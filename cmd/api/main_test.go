package main

import (
	"context"
	"testing"

	"expertflow/config"
	"expertflow/logging"
	"expertflow/notify"
	"expertflow/storage"
)

func testConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	cfg, err := config.Load(args, func(string) string { return "" })
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestNewBlobStore_Memory(t *testing.T) {
	cfg := testConfig(t)

	store, err := newBlobStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new blob store: %v", err)
	}
	if _, ok := store.(*storage.MemoryStore); !ok {
		t.Fatalf("expected memory store for default config, got %T", store)
	}
}

func TestNewBlobStore_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageBackend = "ftp"

	if _, err := newBlobStore(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewSink(t *testing.T) {
	cfg := testConfig(t)
	log := logging.Nop()

	sink, ok := newSink(cfg, log).(notify.Multi)
	if !ok || len(sink) != 1 {
		t.Fatalf("expected log sink only, got %#v", sink)
	}

	cfg.WebhookURL = "https://hooks.example.com/expertflow"
	sink, _ = newSink(cfg, log).(notify.Multi)
	if len(sink) != 2 {
		t.Fatalf("expected log and webhook sinks, got %d", len(sink))
	}
	if _, ok := sink[1].(*notify.WebhookSink); !ok {
		t.Fatalf("expected webhook sink second, got %T", sink[1])
	}
}
