// Package journal keeps an append-only record of scheduler events on disk.
//
// Each event is one protobuf JSON line in the Struct shape of package codec,
// the same one the gRPC Watch stream uses. The journal is an audit trail; it is never replayed
// into the store.
package journal
