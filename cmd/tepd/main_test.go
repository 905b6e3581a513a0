package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tep-core/internal/bus"
	"github.com/nerrad567/tep-core/internal/daemon"
	"github.com/nerrad567/tep-core/internal/infrastructure/config"
	"github.com/nerrad567/tep-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/tep-core/internal/infrastructure/logging"
	"github.com/nerrad567/tep-core/internal/message"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, &CLI{Config: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEP_COMPONENT_NAME", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "component:\n  version: \"3.1.0\"\nstore:\n  backend: memory\nlogging:\n  level: info\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tests := []struct {
		name    string
		cli     CLI
		wantErr bool
	}{
		{
			name:    "file without name",
			cli:     CLI{Config: path},
			wantErr: true,
		},
		{
			name: "name from flag",
			cli: CLI{
				Config:       path,
				Name:         "speech",
				Workdir:      "/srv/tep",
				IntentFolder: "res/intents",
				DialogFolder: "res/dialogs",
				LogLevel:     "debug",
			},
		},
		{
			name:    "no file",
			cli:     CLI{Name: "nlu"},
			wantErr: false,
		},
		{
			name:    "reserved name",
			cli:     CLI{Name: "global"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := tt.cli
			cfg, err := loadConfig(&cli)
			if tt.wantErr {
				if err == nil {
					t.Fatal("loadConfig() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("loadConfig() error = %v", err)
			}
			if cfg.Component.Name != cli.Name {
				t.Errorf("Component.Name = %q, want %q", cfg.Component.Name, cli.Name)
			}
			if want := "tep-" + cli.Name; cfg.MQTT.Broker.ClientID != want {
				t.Errorf("ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, want)
			}
			if cli.Config != "" {
				if cfg.Component.Version != "3.1.0" {
					t.Errorf("Component.Version = %q, want 3.1.0", cfg.Component.Version)
				}
				if cfg.Component.Workdir != "/srv/tep" || cfg.Component.IntentsFolder != "res/intents" || cfg.Component.DialogsFolder != "res/dialogs" {
					t.Errorf("folders = %q %q %q, want flag values",
						cfg.Component.Workdir, cfg.Component.IntentsFolder, cfg.Component.DialogsFolder)
				}
				if cfg.Logging.Level != "debug" {
					t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
				}
			}
		})
	}
}

func TestNewTransport_Will(t *testing.T) {
	cli := CLI{Name: "speech"}
	t.Setenv("TEP_COMPONENT_NAME", "")
	cfg, err := loadConfig(&cli)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	transport, err := newTransport(cfg, logging.Default())
	if err != nil {
		t.Fatalf("newTransport() error = %v", err)
	}
	if transport == nil {
		t.Fatal("newTransport() = nil")
	}
}

func TestStartStatusServer(t *testing.T) {
	t.Setenv("TEP_COMPONENT_NAME", "")
	cfg, err := loadConfig(&CLI{Name: "speech"})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	cfg.HTTP = config.HTTPConfig{Enabled: true, Listen: "127.0.0.1:0", FeedInterval: time.Second}

	log := logging.Default()
	d, err := daemon.New(cfg, newEcho(log), kvstore.NewMemoryStore(), bus.NewLocalBroker().Transport(),
		daemon.WithLogger(log))
	if err != nil {
		t.Fatalf("daemon.New() error = %v", err)
	}

	srv, err := startStatusServer(context.Background(), cfg.HTTP, d, prometheus.NewRegistry(), log)
	if err != nil {
		t.Fatalf("startStatusServer() error = %v", err)
	}
	defer srv.Close()

	resp, err := http.Get("http://" + srv.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /status status = %d, want 200", resp.StatusCode)
	}
}

type fakeHost struct {
	mu        sync.Mutex
	published []*message.Message
	dialogKey string
	dialogArg any
}

func (f *fakeHost) Name() string { return "speech" }

func (f *fakeHost) Publish(msg *message.Message, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeHost) Dialog(key string, data any) (string, error) {
	f.dialogKey = key
	f.dialogArg = data
	return "rendered", nil
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

var _ daemon.Component = (*echo)(nil)
var _ daemon.RouteProvider = (*echo)(nil)
var _ daemon.Reloader = (*echo)(nil)

func TestEcho_RepliesToSource(t *testing.T) {
	host := &fakeHost{}
	e := newEcho(discardLogger{})
	e.attach(host)

	// Round-trip through a bus so the handler sees inbound metadata.
	broker := bus.NewLocalBroker()
	b := bus.New("speech", broker.Transport())
	if err := b.RegisterRoutes(e.Routes()); err != nil {
		t.Fatalf("RegisterRoutes() error = %v", err)
	}
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client := bus.New("client", broker.Transport())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	msg, err := message.WithArguments("speech/echo", map[string]any{"text": "ping"},
		message.WithSource("client"), message.WithContext("kitchen"))
	if err != nil {
		t.Fatalf("WithArguments() error = %v", err)
	}
	if err := client.Publish(msg, ""); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	host.mu.Lock()
	defer host.mu.Unlock()
	if len(host.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(host.published))
	}
	reply := host.published[0]
	if reply.Topic() != "client/echo" {
		t.Errorf("reply topic = %q, want client/echo", reply.Topic())
	}
	if reply.Context() != "kitchen" {
		t.Errorf("reply context = %q, want kitchen", reply.Context())
	}
	if reply.Arguments()["text"] != "ping" {
		t.Errorf("reply arguments = %v, want text=ping", reply.Arguments())
	}
}

func TestEcho_SayMergesConfig(t *testing.T) {
	host := &fakeHost{}
	e := newEcho(discardLogger{})
	e.attach(host)
	e.SetConfig(map[string]any{"name": "tux", "greeting": "hello"})

	if err := e.onSay(context.Background(), map[string]any{"greeting": "hi"}); err != nil {
		t.Fatalf("onSay() error = %v", err)
	}

	data, _ := host.dialogArg.(map[string]any)
	if host.dialogKey != "echo" || data["name"] != "tux" || data["greeting"] != "hi" {
		t.Errorf("Dialog(%q, %v), want echo with name=tux greeting=hi", host.dialogKey, data)
	}
}

func TestEcho_SayWithoutConfig(t *testing.T) {
	host := &fakeHost{}
	e := newEcho(discardLogger{})
	e.attach(host)
	e.SetConfig(nil)

	if err := e.onSay(context.Background(), map[string]any{"x": 1}); err != nil {
		t.Fatalf("onSay() error = %v", err)
	}
}

func TestEcho_MainLoopReturnsOnCancel(t *testing.T) {
	e := newEcho(discardLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- e.MainLoop(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("MainLoop() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("MainLoop() did not return after cancel")
	}
}
