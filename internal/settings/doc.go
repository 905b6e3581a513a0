// Package settings keeps a component's configuration in sync with the
// shared key-value store.
//
// Two documents matter to a component: the global document at
// /config/global, which carries the platform language and NLU engine, and
// the component's own document at /config/<name>, an opaque mapping handed
// to the component's SetConfig hook.
//
// Startup blocks on ReadGlobalOnce and ReadComponentOnce. Afterwards the
// WatchGlobal and WatchComponent loops follow the store and publish an
// Event on Events whenever a watched value actually differs from the
// cached one. Rewriting an identical document emits nothing.
package settings
