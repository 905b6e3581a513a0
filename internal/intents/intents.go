package intents

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tep-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/tep-core/internal/message"
	"github.com/nerrad567/tep-core/internal/metrics"
	"github.com/nerrad567/tep-core/internal/registry"
)

const (
	rootFolder = "intents"

	// LoadAction is the peer action receiving load requests.
	LoadAction = "load_intent"

	// AckAction is the component action receiving acknowledgements.
	AckAction = "intent_ack"
)

// correlationSpace namespaces the UUIDv5 correlation ids.
var correlationSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tep:intents"))

// CorrelationID returns the id identifying one intent file.
func CorrelationID(language, intent, file string) string {
	return uuid.NewSHA1(correlationSpace, []byte(language+"/"+intent+"/"+file)).String()
}

// Key returns the store key of an intent file sent by component.
func Key(engine, language, intent, component, file string) string {
	return kvstore.Join(rootFolder, engine, language, intent, component, file)
}

// File is one intent file read from disk.
type File struct {
	Engine   string
	Language string
	Intent   string
	Name     string
	Data     []byte
}

// Publisher sends bus messages. bus.Bus implements it.
type Publisher interface {
	Publish(msg *message.Message, overrideTopic string) error
}

// PeerStates reports peer liveness. registry.Monitor implements it over
// the central registry; registry.States over the local cache only.
type PeerStates interface {
	WaitFor(ctx context.Context, name string, interval time.Duration, accepted ...registry.State) error
}

// Config holds distributor settings.
type Config struct {
	// Folder is the root of the intent tree on disk.
	Folder string

	// Component is the sending component.
	Component string

	// Peer is the component receiving intents.
	Peer string

	// PeerPoll is the interval between peer state checks.
	PeerPoll time.Duration

	// AckTimeout is how long to wait for an acknowledgement before
	// re-sending a request.
	AckTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(folder, component string) Config {
	return Config{
		Folder:     folder,
		Component:  component,
		Peer:       "nlu",
		PeerPoll:   time.Second,
		AckTimeout: 10 * time.Second,
	}
}

// Logger defines the logging interface used by the Distributor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Distributor sends intent files to the NLU peer.
//
// Thread Safety:
//   - Ack may be called concurrently with Distribute.
type Distributor struct {
	store     kvstore.Store
	publisher Publisher
	peers     PeerStates
	cfg       Config
	logger    Logger
	metrics   *metrics.Recorder

	mu      sync.Mutex
	waiting map[string]chan struct{}
}

// NewDistributor creates a distributor.
func NewDistributor(store kvstore.Store, publisher Publisher, peers PeerStates, cfg Config) *Distributor {
	defaults := DefaultConfig(cfg.Folder, cfg.Component)
	if cfg.Peer == "" {
		cfg.Peer = defaults.Peer
	}
	if cfg.PeerPoll <= 0 {
		cfg.PeerPoll = defaults.PeerPoll
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaults.AckTimeout
	}
	return &Distributor{
		store:     store,
		publisher: publisher,
		peers:     peers,
		cfg:       cfg,
		logger:    noopLogger{},
		waiting:   make(map[string]chan struct{}),
	}
}

// SetLogger sets the logger for the distributor.
func (d *Distributor) SetLogger(logger Logger) {
	d.logger = logger
}

// SetMetrics sets the recorder counting sent and acknowledged intents.
func (d *Distributor) SetMetrics(r *metrics.Recorder) {
	d.metrics = r
}

// Scan reads the intent files of engine below folder.
//
// Language folder names are normalised from "en-US" to "en_US". Empty
// files are skipped. A missing engine folder yields no files.
//
// Returns:
//   - []File: Files in directory order
//   - bool: Whether the engine folder exists
//   - error: ErrNotAFolder, or a read error
func Scan(folder, engine string) ([]File, bool, error) {
	root := filepath.Join(folder, engine)
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, true, fmt.Errorf("%w: %s", ErrNotAFolder, root)
	}

	langs, err := os.ReadDir(root)
	if err != nil {
		return nil, true, fmt.Errorf("reading %s: %w", root, err)
	}

	var files []File
	for _, lang := range langs {
		if !lang.IsDir() {
			continue
		}
		language := strings.ReplaceAll(lang.Name(), "-", "_")
		langPath := filepath.Join(root, lang.Name())

		intentDirs, err := os.ReadDir(langPath)
		if err != nil {
			return nil, true, fmt.Errorf("reading %s: %w", langPath, err)
		}
		for _, intentDir := range intentDirs {
			if !intentDir.IsDir() {
				continue
			}
			intentPath := filepath.Join(langPath, intentDir.Name())
			entries, err := os.ReadDir(intentPath)
			if err != nil {
				return nil, true, fmt.Errorf("reading %s: %w", intentPath, err)
			}
			for _, entry := range entries {
				if !entry.Type().IsRegular() {
					continue
				}
				data, err := os.ReadFile(filepath.Join(intentPath, entry.Name()))
				if err != nil {
					return nil, true, fmt.Errorf("reading intent file: %w", err)
				}
				if len(data) == 0 {
					continue
				}
				files = append(files, File{
					Engine:   engine,
					Language: language,
					Intent:   intentDir.Name(),
					Name:     entry.Name(),
					Data:     data,
				})
			}
		}
	}
	return files, true, nil
}

// Distribute sends every intent file of engine to the peer.
//
// It blocks until the peer is INIT or ALIVE, then for each file writes
// the store key, publishes a load request and waits for its
// acknowledgement, re-sending after AckTimeout.
//
// Returns:
//   - int: Number of files acknowledged
//   - error: ErrNotAFolder, ctx.Err(), or a store or bus error
func (d *Distributor) Distribute(ctx context.Context, engine string) (int, error) {
	files, exists, err := Scan(d.cfg.Folder, engine)
	if err != nil {
		return 0, err
	}
	if !exists {
		d.logger.Warn("no intent folder found, no intents will be sent to the nlu engine",
			"folder", filepath.Join(d.cfg.Folder, engine))
		return 0, nil
	}
	if len(files) == 0 {
		return 0, nil
	}

	d.logger.Info("waiting for nlu peer", "peer", d.cfg.Peer)
	if err := d.peers.WaitFor(ctx, d.cfg.Peer, d.cfg.PeerPoll, registry.StateInit, registry.StateAlive); err != nil {
		return 0, err
	}

	for i, f := range files {
		if err := d.send(ctx, f); err != nil {
			return i, err
		}
	}
	return len(files), nil
}

// send writes one file and waits for the peer to acknowledge it.
func (d *Distributor) send(ctx context.Context, f File) error {
	key := Key(f.Engine, f.Language, f.Intent, d.cfg.Component, f.Name)
	if _, err := d.store.Write(ctx, key, f.Data); err != nil {
		return fmt.Errorf("saving intent %s: %w", key, err)
	}

	id := CorrelationID(f.Language, f.Intent, f.Name)
	req, err := message.WithArguments(LoadTopic(d.cfg.Peer), map[string]any{
		"correlation_id": id,
		"key":            key,
		"engine":         f.Engine,
		"language":       f.Language,
		"intent":         f.Intent,
		"file":           f.Name,
		"component":      d.cfg.Component,
	}, message.WithSource(d.cfg.Component))
	if err != nil {
		return err
	}

	acked := d.expect(id)
	defer d.forget(id)

	for attempt := 1; ; attempt++ {
		if err := d.publisher.Publish(req, ""); err != nil {
			return fmt.Errorf("sending intent %s: %w", key, err)
		}
		if attempt == 1 {
			d.metrics.IncIntentSent()
		} else {
			d.metrics.IncIntentResent()
		}

		timer := time.NewTimer(d.cfg.AckTimeout)
		select {
		case <-acked:
			timer.Stop()
			d.metrics.IncIntentAcked()
			d.logger.Info("intent saved", "intent", f.Language+"/"+f.Intent+"/"+f.Name)
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			d.logger.Warn("intent not acknowledged, sending again",
				"intent", f.Language+"/"+f.Intent+"/"+f.Name,
				"attempt", attempt,
			)
		}
	}
}

func (d *Distributor) expect(id string) <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan struct{})
	d.waiting[id] = ch
	return ch
}

func (d *Distributor) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.waiting, id)
}

// Ack handles an acknowledgement from the peer. It has the signature of a
// bus handler for "<component>/intent_ack".
func (d *Distributor) Ack(_ context.Context, args map[string]any) error {
	id, _ := args["correlation_id"].(string)
	if id == "" {
		return fmt.Errorf("%w: missing correlation_id", ErrInvalidRequest)
	}

	d.mu.Lock()
	ch, ok := d.waiting[id]
	if ok {
		delete(d.waiting, id)
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("unexpected intent acknowledgement", "correlation_id", id)
		return nil
	}
	close(ch)
	return nil
}

// List returns the intent files stored for engine by every component.
func (d *Distributor) List(ctx context.Context, engine string) ([]kvstore.Entry, error) {
	entries, err := d.store.List(ctx, kvstore.Join(rootFolder, engine))
	if err != nil {
		return nil, fmt.Errorf("listing intents: %w", err)
	}
	return entries, nil
}

// LoadTopic returns the topic on which peer receives load requests.
func LoadTopic(peer string) string {
	return peer + "/" + LoadAction
}

// AckTopic returns the topic on which component receives acknowledgements.
func AckTopic(component string) string {
	return component + "/" + AckAction
}

// LoadRequest is a decoded load request, as seen by the peer.
type LoadRequest struct {
	CorrelationID string
	Key           string
	Component     string
}

// DecodeLoadRequest extracts a load request from handler arguments.
func DecodeLoadRequest(args map[string]any) (LoadRequest, error) {
	req := LoadRequest{}
	req.CorrelationID, _ = args["correlation_id"].(string)
	req.Key, _ = args["key"].(string)
	req.Component, _ = args["component"].(string)
	if req.CorrelationID == "" || req.Key == "" || req.Component == "" {
		return LoadRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, args)
	}
	return req, nil
}

// AckMessage builds the acknowledgement of req.
func AckMessage(req LoadRequest) (*message.Message, error) {
	return message.WithArguments(AckTopic(req.Component), map[string]any{
		"correlation_id": req.CorrelationID,
	})
}
