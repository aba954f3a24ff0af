package main

import (
	"testing"

	"golang.org/x/crypto/blake2b"

	"nimble/server/internal/blobout"
	"nimble/server/internal/nimble"
	"nimble/server/internal/protocol"
	"nimble/server/internal/transport"
)

// fakeTransport is an in-memory transport.Transport double: Send
// appends to a per-transport-index outbox, Receive drains a single
// inbound FIFO fed by the test via deliver.
type fakeTransport struct {
	inbound [][2]any // {transportIndex uint8, data []byte}
	outbox  map[uint8][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{outbox: make(map[uint8][][]byte)}
}

func (f *fakeTransport) deliver(transportIndex uint8, data []byte) {
	f.inbound = append(f.inbound, [2]any{transportIndex, data})
}

func (f *fakeTransport) Send(transportIndex uint8, data []byte) error {
	f.outbox[transportIndex] = append(f.outbox[transportIndex], data)
	return nil
}

func (f *fakeTransport) Receive() (uint8, []byte, bool) {
	if len(f.inbound) == 0 {
		return 0, nil, false
	}
	next := f.inbound[0]
	f.inbound = f.inbound[1:]
	return next[0].(uint8), next[1].([]byte), true
}

// clientHash replicates internal/transport's keyed connection hash
// independently, the way a real client would with its own copy of the
// shared secret — internal/transport.connectionHash is unexported.
func clientHash(secret uint64, connID uint8, seq uint8, clientTime uint16, cmd protocol.Command, body []byte) [protocol.ConnectionHashSize]byte {
	var key [8]byte
	for i := range key {
		key[i] = byte(secret >> (8 * i))
	}
	h, _ := blake2b.New(protocol.ConnectionHashSize, key[:])
	h.Write([]byte{connID, seq})
	h.Write([]byte{byte(clientTime >> 8), byte(clientTime)})
	h.Write([]byte{byte(cmd)})
	h.Write(body)
	var out [protocol.ConnectionHashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

func buildClientDatagram(connID uint8, secret uint64, seq uint8, cmd protocol.Command, body []byte) []byte {
	hash := clientHash(secret, connID, seq, 0, cmd, body)
	return protocol.EncodeHeader(protocol.Header{ConnID: connID, Hash: hash, Seq: seq, Cmd: cmd}, body)
}

func newTestServer(capacity int) (*Server, *fakeTransport) {
	pool := transport.NewPool(capacity)
	game := nimble.NewGame(capacity)
	calls := 0
	rnd := func() uint64 {
		calls++
		return 0x9000 + uint64(calls)
	}
	dispatcher := transport.NewDispatcher(pool, game, rnd)
	blobManager := blobout.NewManager(func() blobout.GameState {
		return blobout.GameState{Bytes: []byte("snapshot"), StepID: game.ExpectedWriteID()}
	}, 4)
	ft := newFakeTransport()
	srv := NewServer(ft, dispatcher, blobManager, 1000, 1000, 20)
	return srv, ft
}

func TestConnectRequestRoundTrip(t *testing.T) {
	srv, ft := newTestServer(8)

	body := protocol.EncodeConnectRequest(protocol.ConnectRequest{TransportIndex: 3, RequestNonce: 0xAABB})
	datagram := protocol.EncodeHeader(protocol.Header{ConnID: 0, Cmd: protocol.CmdConnectRequest}, body)
	ft.deliver(3, datagram)

	srv.Update(1000)

	out := ft.outbox[3]
	if len(out) != 1 {
		t.Fatalf("expected 1 outgoing datagram, got %d", len(out))
	}
	h, respBody, err := protocol.DecodeHeader(out[0])
	if err != nil {
		t.Fatalf("decode response header: %v", err)
	}
	if h.Cmd != protocol.Command(protocol.ReplyConnectResponse) {
		t.Fatalf("cmd = %v, want ReplyConnectResponse", h.Cmd)
	}
	resp, err := protocol.DecodeConnectResponse(respBody)
	if err != nil {
		t.Fatalf("decode connect response: %v", err)
	}
	if resp.Secret == 0 {
		t.Fatalf("expected a non-zero secret")
	}
}

func TestJoinAndGameStepRoundTrip(t *testing.T) {
	srv, ft := newTestServer(8)

	connectBody := protocol.EncodeConnectRequest(protocol.ConnectRequest{TransportIndex: 1, RequestNonce: 1})
	ft.deliver(1, protocol.EncodeHeader(protocol.Header{Cmd: protocol.CmdConnectRequest}, connectBody))
	srv.Update(0)

	_, connectRespBody, _ := protocol.DecodeHeader(ft.outbox[1][0])
	connectResp, _ := protocol.DecodeConnectResponse(connectRespBody)
	connID := connectResp.ConnectionID
	secret := connectResp.Secret

	joinBody := protocol.EncodeJoinGameRequest(protocol.JoinGameRequest{Kind: protocol.JoinNoSecret, LocalPlayerCount: 1})
	ft.deliver(1, buildClientDatagram(connID, secret, 1, protocol.CmdJoinGameRequest, joinBody))
	srv.Update(1)

	if len(ft.outbox[1]) != 2 {
		t.Fatalf("expected a join response queued, got %d datagrams", len(ft.outbox[1]))
	}
	_, joinRespBody, _ := protocol.DecodeHeader(ft.outbox[1][1])
	joinResp, err := protocol.DecodeJoinGameResponse(joinRespBody)
	if err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	if len(joinResp.ParticipantIDs) != 1 {
		t.Fatalf("expected 1 participant id, got %v", joinResp.ParticipantIDs)
	}

	stepBody := protocol.EncodeGameStepRequest(protocol.GameStepRequest{
		ClientWaitingForStepID: 0,
		FirstStepID:            0,
		Payloads:               [][]byte{[]byte("input-a")},
	})
	ft.deliver(1, buildClientDatagram(connID, secret, 2, protocol.CmdGameStep, stepBody))
	srv.Update(2)

	if len(ft.outbox[1]) != 3 {
		t.Fatalf("expected a game step response queued, got %d datagrams", len(ft.outbox[1]))
	}
	h, stepRespBody, err := protocol.DecodeHeader(ft.outbox[1][2])
	if err != nil {
		t.Fatalf("decode step response: %v", err)
	}
	if h.Cmd != protocol.Command(protocol.ReplyGameStepResponse) {
		t.Fatalf("cmd = %v, want ReplyGameStepResponse", h.Cmd)
	}
	if _, err := protocol.DecodeGameStepResponseHeader(stepRespBody); err != nil {
		t.Fatalf("decode step response header: %v", err)
	}

	recv, sent, datagrams := srv.Throughput()
	if recv == 0 || sent == 0 || datagrams == 0 {
		t.Fatalf("expected non-zero throughput counters, got recv=%d sent=%d datagrams=%d", recv, sent, datagrams)
	}
}

func TestServerStatsReflectsPartyState(t *testing.T) {
	srv, ft := newTestServer(8)

	connectBody := protocol.EncodeConnectRequest(protocol.ConnectRequest{TransportIndex: 1, RequestNonce: 1})
	ft.deliver(1, protocol.EncodeHeader(protocol.Header{Cmd: protocol.CmdConnectRequest}, connectBody))
	srv.Update(0)
	_, connectRespBody, _ := protocol.DecodeHeader(ft.outbox[1][0])
	connectResp, _ := protocol.DecodeConnectResponse(connectRespBody)

	joinBody := protocol.EncodeJoinGameRequest(protocol.JoinGameRequest{Kind: protocol.JoinNoSecret, LocalPlayerCount: 1})
	ft.deliver(1, buildClientDatagram(connectResp.ConnectionID, connectResp.Secret, 1, protocol.CmdJoinGameRequest, joinBody))
	srv.Update(1)

	stats := srv.Stats()
	if stats.Parties != 1 {
		t.Fatalf("parties = %d, want 1", stats.Parties)
	}
	if len(stats.PartyDetail) != 1 || !stats.PartyDetail[0].HasTransport {
		t.Fatalf("unexpected party detail: %+v", stats.PartyDetail)
	}
}

func TestConnectRequestRateLimited(t *testing.T) {
	pool := transport.NewPool(8)
	game := nimble.NewGame(8)
	dispatcher := transport.NewDispatcher(pool, game, func() uint64 { return 42 })
	blobManager := blobout.NewManager(func() blobout.GameState { return blobout.GameState{} }, 4)
	ft := newFakeTransport()
	srv := NewServer(ft, dispatcher, blobManager, 0.0, 1, 20)

	for i := 0; i < 3; i++ {
		body := protocol.EncodeConnectRequest(protocol.ConnectRequest{TransportIndex: 5, RequestNonce: uint64(i + 1)})
		ft.deliver(5, protocol.EncodeHeader(protocol.Header{Cmd: protocol.CmdConnectRequest}, body))
	}
	srv.Update(0)

	if len(ft.outbox[5]) != 1 {
		t.Fatalf("expected exactly 1 connect response within the burst allowance, got %d", len(ft.outbox[5]))
	}
}

// TestServerUpdateSurfacesDegradedTickQuality drives a 20ms-target
// server through 65 updates spaced 1 second apart (64 slow ticks after
// the first) — well past maxConsecutiveSlowTicks — and checks that Update starts returning a
// non-nil error once the host is recognized as too slow (§4.9 step 1).
func TestServerUpdateSurfacesDegradedTickQuality(t *testing.T) {
	srv, _ := newTestServer(8)

	var lastErr error
	var nowMillis int64
	for i := 0; i < 65; i++ {
		nowMillis += 1000
		lastErr = srv.Update(nowMillis)
	}
	if lastErr == nil {
		t.Fatalf("expected Update to report degraded tick quality after sustained slow ticks")
	}
	if srv.TickQuality.State() != nimble.TickQualityFailedTickTime {
		t.Fatalf("state = %v, want TickQualityFailedTickTime", srv.TickQuality.State())
	}
}

