// Package relay contains the in-memory rendezvous core: the session
// registry, per-participant message queues, and the delivery stream that
// pushes queued messages to a participant's transport.
//
// The relay never interprets message payloads. Offer/answer/candidate
// semantics belong entirely to the peers; this package only guarantees
// per-recipient FIFO, best-effort delivery.
package relay
