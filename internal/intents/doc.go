// Package intents distributes a component's intent files to the NLU peer.
//
// Intent files live on disk as <folder>/<engine>/<lang>/<intent>/<file>.
// At startup each file is written raw to the store under
// /intents/<engine>/<lang>/<intent>/<component>/<file>, then announced to
// the peer on "<peer>/load_intent". The peer answers on
// "<component>/intent_ack" with the correlation id of the request; ids
// are UUIDv5 values derived from language, intent and file name, so a
// re-sent request keeps its id.
//
// Distribution waits until the peer is INIT or ALIVE, and re-sends a
// request whose acknowledgement does not arrive in time.
package intents
