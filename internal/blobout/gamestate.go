// Package blobout implements the reliable blob-download side channel
// (§4.8): a chunked, acknowledged transfer of a game-state snapshot atop
// the unreliable datagram transport, so a late-joining or reconnecting
// client can catch up to the authoritative timeline.
package blobout

import "nimble/server/internal/nimble"

// GameState is one snapshot of the application's authoritative state:
// the opaque bytes produced by the (out-of-scope) serialization
// callback, tagged with the step id they were captured at. A transport
// connection holds one staging copy while a download is in flight
// (§3 DATA MODEL: "one staging copy per transport connection").
type GameState struct {
	Bytes  []byte
	StepID nimble.StepID
}

// Clone returns a deep copy of the snapshot, used when staging a
// snapshot into a connection: the application's "current" copy must not
// alias the bytes a slow client is still streaming.
func (g GameState) Clone() GameState {
	out := make([]byte, len(g.Bytes))
	copy(out, g.Bytes)
	return GameState{Bytes: out, StepID: g.StepID}
}
