package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/nerrad567/tep-core/internal/infrastructure/config"
)

const natsSetupTimeout = 10 * time.Second

// NATSStore is a Store backed by a JetStream key-value bucket.
//
// Slash paths are mapped to dot-separated NATS keys (see encodeKey) so
// folder listings can use subject wildcards.
type NATSStore struct {
	conn *nats.Conn
	kv   jetstream.KeyValue
}

// NewNATSStore connects to cfg.URL and opens (or creates) cfg.Bucket.
func NewNATSStore(ctx context.Context, cfg config.NATSConfig) (*NATSStore, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("tep-kvstore"),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(false),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to NATS: %w", ErrUnavailable, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: creating JetStream context: %w", ErrUnavailable, err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, natsSetupTimeout)
	defer cancel()

	kv, err := js.KeyValue(setupCtx, cfg.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(setupCtx, jetstream.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "Tep configuration, registry, memory and intents",
			History:     1,
		})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: opening bucket %s: %w", ErrUnavailable, cfg.Bucket, err)
	}

	return &NATSStore{conn: conn, kv: kv}, nil
}

// Read returns the current value of key.
func (s *NATSStore) Read(ctx context.Context, key string) (Entry, error) {
	if err := validateKey(key); err != nil {
		return Entry{}, err
	}

	entry, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		return Entry{}, s.mapError(key, err)
	}
	return Entry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// List returns every live key under prefix.
func (s *NATSStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	keys, err := s.keysUnder(ctx, prefix)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(keys))
	for _, natsKey := range keys {
		entry, err := s.kv.Get(ctx, natsKey)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue // deleted between listing and reading
		}
		if err != nil {
			return nil, s.mapError(prefix, err)
		}
		entries = append(entries, Entry{
			Key:      decodeKey(natsKey),
			Value:    entry.Value(),
			Revision: entry.Revision(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Write stores value under key.
func (s *NATSStore) Write(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	rev, err := s.kv.Put(ctx, encodeKey(key), value)
	if err != nil {
		return 0, s.mapError(key, err)
	}
	return rev, nil
}

// Delete removes key, or the whole folder when recursive is set.
func (s *NATSStore) Delete(ctx context.Context, key string, recursive bool) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if !recursive {
		if _, err := s.kv.Get(ctx, encodeKey(key)); err != nil {
			return s.mapError(key, err)
		}
		if err := s.kv.Delete(ctx, encodeKey(key)); err != nil {
			return s.mapError(key, err)
		}
		return nil
	}

	keys, err := s.keysUnder(ctx, key)
	if err != nil {
		return err
	}
	if _, err := s.kv.Get(ctx, encodeKey(key)); err == nil {
		keys = append(keys, encodeKey(key))
	}

	for _, natsKey := range keys {
		if err := s.kv.Delete(ctx, natsKey); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return s.mapError(key, err)
		}
	}
	return nil
}

// Watch waits for a change of key past afterRevision.
//
// The JetStream watcher first replays the latest value, which covers a
// change that happened before the call.
func (s *NATSStore) Watch(ctx context.Context, key string, afterRevision uint64, timeout time.Duration) (Entry, error) {
	if err := validateKey(key); err != nil {
		return Entry{}, err
	}

	watchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	watcher, err := s.kv.Watch(watchCtx, encodeKey(key))
	if err != nil {
		if ctx.Err() != nil {
			return Entry{}, ctx.Err()
		}
		if watchCtx.Err() != nil {
			return Entry{}, ErrWatchTimeout
		}
		return Entry{}, s.mapError(key, err)
	}
	defer watcher.Stop() //nolint:errcheck // Best effort cleanup

	for {
		select {
		case update, ok := <-watcher.Updates():
			if !ok {
				if ctx.Err() != nil {
					return Entry{}, ctx.Err()
				}
				return Entry{}, ErrWatchTimeout
			}
			// A nil update marks the end of the initial replay.
			if update == nil || update.Revision() <= afterRevision {
				continue
			}
			e := Entry{Key: key, Revision: update.Revision()}
			switch update.Operation() {
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				e.Deleted = true
			default:
				e.Value = update.Value()
			}
			return e, nil
		case <-watchCtx.Done():
			if ctx.Err() != nil {
				return Entry{}, ctx.Err()
			}
			return Entry{}, ErrWatchTimeout
		}
	}
}

// Close drains the NATS connection.
func (s *NATSStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// keysUnder lists the NATS keys below the folder prefix.
func (s *NATSStore) keysUnder(ctx context.Context, prefix string) ([]string, error) {
	base := encodeKey(strings.TrimSuffix(prefix, "/"))
	filter := ">"
	if base != "" {
		filter = base + ".>"
	}

	lister, err := s.kv.ListKeysFiltered(ctx, filter)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.mapError(prefix, err)
	}
	defer lister.Stop() //nolint:errcheck // Best effort cleanup

	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *NATSStore) mapError(key string, err error) error {
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// encodeKey maps "/intents/snips/en_US/x/nlu/a.json" to
// "intents.snips.en_US.x.nlu.a=2Ejson". Bytes outside [-_A-Za-z0-9] are
// written as =XX so that '.' only ever separates segments.
func encodeKey(key string) string {
	segments := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = encodeSegment(seg)
	}
	return strings.Join(segments, ".")
}

func encodeSegment(seg string) string {
	var b strings.Builder
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}

// decodeKey reverses encodeKey.
func decodeKey(natsKey string) string {
	segments := strings.Split(natsKey, ".")
	for i, seg := range segments {
		segments[i] = decodeSegment(seg)
	}
	return "/" + strings.Join(segments, "/")
}

func decodeSegment(seg string) string {
	var b strings.Builder
	for i := 0; i < len(seg); i++ {
		if seg[i] == '=' && i+2 < len(seg) {
			if c, err := strconv.ParseUint(seg[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(c))
				i += 2
				continue
			}
		}
		b.WriteByte(seg[i])
	}
	return b.String()
}
