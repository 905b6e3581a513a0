// Package initializer runs the startup sequence of a component.
//
// The sequence is a one-way state machine:
//
//	NOT_STARTED -> BUS_CONNECTED -> DIALOGS_LOADED -> GLOBAL_CONFIG_RECEIVED
//	  -> COMPONENT_CONFIG_RECEIVED -> INTENTS_SENT -> BACKGROUND_TASKS_RUNNING
//
// Each blocking step retries on a fixed interval until it succeeds or the
// context ends. Steps that are skipped by configuration still advance the
// state, so State always reports how far startup has got.
package initializer
