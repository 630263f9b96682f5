// Package ws implements the WebSocket relay: every JSON object a client
// sends is rebroadcast to all other connected clients.
//
// The package implements:
//   - Relay: owns the peer set and performs fanout
//   - Client: one connection with its bounded send queue and open/closed status
//   - Handler: upgrades HTTP requests and runs the per-connection read/write pumps
//   - Service: wires the Relay to metrics and the connection audit log
//
// Relay events (connect, message, close, error) are serialized by a single
// mutex, so two fanouts never interleave and removal on an end flag is
// atomic with the fanout that carried it. Sends never block: a peer whose
// queue is full is closed and dropped without affecting the others.
package ws
