// Package kvstore provides the watched key-value store that carries
// distributed configuration, the component registry, memory and intents.
//
// Keys are slash-separated paths such as "/config/global" or
// "/registry/speech". Every write bumps a store-wide revision; Watch blocks
// until a key changes past a known revision or the long-poll window expires.
//
// Three backends implement Store:
//   - MemoryStore: in-process, for tests and single-process setups
//   - NATSStore: a JetStream key-value bucket shared by all components
//   - SQLiteStore: an embedded database file with polling watches
//
// Usage:
//
//	store, err := kvstore.Open(ctx, cfg.Store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	entry, err := store.Watch(ctx, "/config/global", lastRevision, cfg.Store.WatchTimeout)
//	switch {
//	case errors.Is(err, kvstore.ErrWatchTimeout):
//	    // no change, watch again
//	case err != nil:
//	    // back off
//	}
package kvstore
