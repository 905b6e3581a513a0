package intents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tep-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/tep-core/internal/message"
	"github.com/nerrad567/tep-core/internal/registry"
)

// writeTree creates files under root from a path -> content map.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
}

// ackingPublisher plays the NLU peer: it acknowledges load requests,
// ignoring the first drop requests.
type ackingPublisher struct {
	mu       sync.Mutex
	dist     *Distributor
	drop     int
	requests []*message.Message
}

func (p *ackingPublisher) Publish(msg *message.Message, _ string) error {
	p.mu.Lock()
	p.requests = append(p.requests, msg)
	dropping := p.drop > 0
	if dropping {
		p.drop--
	}
	p.mu.Unlock()

	if dropping {
		return nil
	}
	req, err := DecodeLoadRequest(msg.Arguments())
	if err != nil {
		return err
	}
	ack, err := AckMessage(req)
	if err != nil {
		return err
	}
	return p.dist.Ack(context.Background(), ack.Arguments())
}

func alivePeer() *registry.States {
	s := registry.NewStates()
	s.Observe(registry.Entry{Name: "nlu", Date: 1, State: registry.StateAlive})
	return s
}

func testConfig(folder string) Config {
	return Config{
		Folder:     folder,
		Component:  "test_intents",
		Peer:       "nlu",
		PeerPoll:   10 * time.Millisecond,
		AckTimeout: 50 * time.Millisecond,
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"nlu_test/en-US/weather/weather.md": "NLU test file\n",
		"nlu_test/en-US/weather/empty.md":   "",
		"nlu_test/fr_FR/time/time.md":       "heure\n",
		"nlu_test/README":                   "not a language folder",
	})

	files, exists, err := Scan(root, "nlu_test")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !exists {
		t.Fatal("Scan() exists = false")
	}
	if len(files) != 2 {
		t.Fatalf("Scan() = %d files, want 2: %+v", len(files), files)
	}
	if files[0].Language != "en_US" || files[0].Intent != "weather" || files[0].Name != "weather.md" {
		t.Errorf("files[0] = %+v", files[0])
	}
	if string(files[0].Data) != "NLU test file\n" {
		t.Errorf("files[0].Data = %q", files[0].Data)
	}
}

func TestScan_Missing(t *testing.T) {
	files, exists, err := Scan(t.TempDir(), "nlu_test")
	if err != nil || exists || files != nil {
		t.Errorf("Scan() = %v, %v, %v, want nil, false, nil", files, exists, err)
	}
}

func TestScan_NotAFolder(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"intents_test.py": "x"})

	if _, _, err := Scan(root, "intents_test.py"); !errors.Is(err, ErrNotAFolder) {
		t.Errorf("Scan() error = %v, want ErrNotAFolder", err)
	}
}

func TestDistribute(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"nlu_test/en_US/weather/weather.md": "NLU test file\n",
	})

	store := kvstore.NewMemoryStore()
	pub := &ackingPublisher{}
	d := NewDistributor(store, pub, alivePeer(), testConfig(root))
	pub.dist = d

	n, err := d.Distribute(ctx, "nlu_test")
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Distribute() = %d, want 1", n)
	}

	entries, err := d.List(ctx, "nlu_test")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("List() = %d entries, want 1", len(entries))
	}
	if entries[0].Key != "/intents/nlu_test/en_US/weather/test_intents/weather.md" {
		t.Errorf("key = %q", entries[0].Key)
	}
	if string(entries[0].Value) != "NLU test file\n" {
		t.Errorf("value = %q, want raw file content", entries[0].Value)
	}

	args := pub.requests[0].Arguments()
	if args["correlation_id"] != CorrelationID("en_US", "weather", "weather.md") {
		t.Errorf("correlation_id = %v", args["correlation_id"])
	}
	if pub.requests[0].Topic() != "nlu/load_intent" {
		t.Errorf("request topic = %q", pub.requests[0].Topic())
	}
}

func TestDistribute_ResendsOnAckTimeout(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"nlu_test/en_US/a/a.md": "a"})

	pub := &ackingPublisher{drop: 2}
	d := NewDistributor(kvstore.NewMemoryStore(), pub, alivePeer(), testConfig(root))
	pub.dist = d

	if _, err := d.Distribute(context.Background(), "nlu_test"); err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if len(pub.requests) != 3 {
		t.Errorf("requests = %d, want 3", len(pub.requests))
	}
	first, last := pub.requests[0].Arguments(), pub.requests[2].Arguments()
	if first["correlation_id"] != last["correlation_id"] {
		t.Error("re-sent request changed correlation id")
	}
}

func TestDistribute_WaitsForPeer(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"nlu_test/en_US/a/a.md": "a"})

	peers := registry.NewStates()
	pub := &ackingPublisher{}
	d := NewDistributor(kvstore.NewMemoryStore(), pub, peers, testConfig(root))
	pub.dist = d

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := d.Distribute(ctx, "nlu_test"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Distribute() error = %v, want DeadlineExceeded", err)
	}
	if len(pub.requests) != 0 {
		t.Error("request sent before the peer was up")
	}

	peers.Observe(registry.Entry{Name: "nlu", Date: 1, State: registry.StateInit})
	if _, err := d.Distribute(context.Background(), "nlu_test"); err != nil {
		t.Errorf("Distribute() with INIT peer error = %v", err)
	}
}

func TestDistribute_PeerOnlyInRegistry(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"nlu_test/en_US/a/a.md": "a"})

	store := kvstore.NewMemoryStore()
	if _, err := registry.New(store, "nlu", "2.0").Ping(context.Background(), registry.StateAlive); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	peers := registry.NewMonitor(registry.New(store, "test_intents", "1.0"), registry.NewStates(),
		registry.DefaultMonitorConfig("test_intents"))

	pub := &ackingPublisher{}
	d := NewDistributor(store, pub, peers, testConfig(root))
	pub.dist = d

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := d.Distribute(ctx, "nlu_test")
	if err != nil {
		t.Fatalf("Distribute() error = %v, want nil with the peer ALIVE in the registry", err)
	}
	if n != 1 {
		t.Errorf("Distribute() = %d, want 1", n)
	}
}

func TestDistribute_NoFolder(t *testing.T) {
	d := NewDistributor(kvstore.NewMemoryStore(), &ackingPublisher{}, registry.NewStates(), testConfig(t.TempDir()))

	n, err := d.Distribute(context.Background(), "missing")
	if err != nil || n != 0 {
		t.Errorf("Distribute() = %d, %v, want 0, nil", n, err)
	}
}

func TestAck(t *testing.T) {
	d := NewDistributor(kvstore.NewMemoryStore(), &ackingPublisher{}, registry.NewStates(), testConfig(""))

	if err := d.Ack(context.Background(), map[string]any{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Ack() without id error = %v, want ErrInvalidRequest", err)
	}
	if err := d.Ack(context.Background(), map[string]any{"correlation_id": "unknown"}); err != nil {
		t.Errorf("Ack() unknown id error = %v", err)
	}
}

func TestCorrelationID(t *testing.T) {
	a := CorrelationID("en_US", "weather", "weather.md")
	if a != CorrelationID("en_US", "weather", "weather.md") {
		t.Error("CorrelationID() is not deterministic")
	}
	if a == CorrelationID("fr_FR", "weather", "weather.md") {
		t.Error("CorrelationID() ignores the language")
	}
}

func TestDecodeLoadRequest(t *testing.T) {
	if _, err := DecodeLoadRequest(map[string]any{"key": "/x"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("DecodeLoadRequest() error = %v, want ErrInvalidRequest", err)
	}
}
