// Package message defines the envelope exchanged between components on the
// topic bus.
//
// Every message serialises to:
//
//	{"topic": "speech/say", "data": {"arguments": {...}}, "context": "general", "source": null}
//
// A Message is validated and serialised once, at construction; it cannot
// be modified afterwards.
package message
