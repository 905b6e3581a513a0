//go:build integration

package kvstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/tep-core/internal/infrastructure/config"
)

// Integration tests against a JetStream-enabled NATS server at 127.0.0.1:4222.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/kvstore/...

func TestIntegration_NATSStore(t *testing.T) {
	ctx := context.Background()

	s, err := NewNATSStore(ctx, config.NATSConfig{
		URL:    "nats://127.0.0.1:4222",
		Bucket: fmt.Sprintf("tep_test_%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("NewNATSStore() error = %v", err)
	}
	defer s.Close() //nolint:errcheck // Test cleanup

	rev, err := s.Write(ctx, "/registry/speech", []byte(`{"state":"ALIVE"}`))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	entries, err := s.List(ctx, "/registry/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "/registry/speech" {
		t.Fatalf("List() = %+v, want /registry/speech", entries)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Write(ctx, "/registry/speech", []byte(`{"state":"NOT ALIVE"}`)) //nolint:errcheck // Test helper
	}()

	entry, err := s.Watch(ctx, "/registry/speech", rev, 2*time.Second)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if string(entry.Value) != `{"state":"NOT ALIVE"}` {
		t.Errorf("Watch() value = %s", entry.Value)
	}

	if err := s.Delete(ctx, "/registry", true); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	entries, err = s.List(ctx, "/registry/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List() after Delete() = %+v, want empty", entries)
	}
}
