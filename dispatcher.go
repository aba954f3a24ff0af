package main

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"nimble/server/internal/admin"
	"nimble/server/internal/blobout"
	"nimble/server/internal/nimble"
	"nimble/server/internal/protocol"
	"nimble/server/internal/transport"
)

// Server owns every piece of mutable state the tick loop touches: the
// transport-connection pool, the domain game, the blob-out side
// channel, and whatever Transport collaborator is currently moving
// datagrams in and out (§4.9, §5). Nothing here is protected by a
// mutex; Update is the only entry point that mutates state, and it is
// only ever called from the single tick goroutine main.go starts.
type Server struct {
	Transport  transport.Transport
	Dispatcher *transport.Dispatcher
	BlobOut    *blobout.Manager
	TickQuality *nimble.TickQualityMonitor

	connectLimiters map[uint8]*rate.Limiter
	connectRate     rate.Limit
	connectBurst    int

	bytesReceived    uint64
	bytesSent        uint64
	datagramsHandled uint64

	startedAt time.Time
}

// Throughput reports cumulative byte/datagram counters for RunMetrics.
func (s *Server) Throughput() (bytesReceived, bytesSent, datagramsHandled uint64) {
	return s.bytesReceived, s.bytesSent, s.datagramsHandled
}

// NewServer wires a Server around an already-constructed Transport,
// Dispatcher, and blob-out Manager. connectRatePerSecond/connectBurst
// bound how fast a single transport index may mint ConnectRequests,
// set from main.go's -connect-rate and -connect-burst flags (defaults
// in limits.go).
// targetTickMillis seeds the host-quality monitor Update checks as its
// step 1 (§4.9).
func NewServer(tp transport.Transport, d *transport.Dispatcher, bo *blobout.Manager, connectRatePerSecond float64, connectBurst int, targetTickMillis int64) *Server {
	return &Server{
		Transport:       tp,
		Dispatcher:      d,
		BlobOut:         bo,
		TickQuality:     nimble.NewTickQualityMonitor(targetTickMillis),
		connectLimiters: make(map[uint8]*rate.Limiter),
		connectRate:     rate.Limit(connectRatePerSecond),
		connectBurst:    connectBurst,
		startedAt:       time.Now(),
	}
}

// connectLimiterFor returns (creating if necessary) the token-bucket
// limiter guarding ConnectRequest floods from a single transport index.
func (s *Server) connectLimiterFor(transportIndex uint8) *rate.Limiter {
	l, ok := s.connectLimiters[transportIndex]
	if !ok {
		l = rate.NewLimiter(s.connectRate, s.connectBurst)
		s.connectLimiters[transportIndex] = l
	}
	return l
}

// Update runs one server tick (§4.9): check this host's own tick-time
// health, advance party quality/lifecycle and compose the authoritative
// step, then drain and dispatch up to MaxDatagramsPerTick inbound
// datagrams. A non-nil return means the host itself has fallen behind
// its target tick rate for too long (TickQualityMonitor.Tick) — the
// embedder should treat this server instance as degraded and trigger a
// host migration; Update still completes the rest of the tick before
// returning it.
func (s *Server) Update(nowMillis int64) error {
	tickErr := s.TickQuality.Tick(nowMillis)
	if tickErr != nil {
		slog.Warn("host tick quality degraded", "state", s.TickQuality.State(), "err", tickErr)
	}

	s.Dispatcher.Tick()

	for i := 0; i < nimble.MaxDatagramsPerTick; i++ {
		transportIndex, data, ok := s.Transport.Receive()
		if !ok {
			break
		}
		s.bytesReceived += uint64(len(data))
		s.datagramsHandled++
		s.dispatchDatagram(transportIndex, data, nowMillis)
	}

	return tickErr
}

// dispatchDatagram decodes one inbound datagram and routes it by
// command (§6). A zero conn_id identifies the out-of-band
// ConnectRequest; every other command is routed by looking up the
// connection's id in the pool and verifying its hash.
func (s *Server) dispatchDatagram(transportIndex uint8, data []byte, nowMillis int64) {
	header, body, err := protocol.DecodeHeader(data)
	if err != nil {
		slog.Debug("dropping undecodable datagram", "transport_index", transportIndex, "err", err)
		return
	}

	if header.ConnID == 0 {
		if header.Cmd == protocol.CmdConnectRequest {
			s.handleConnectRequest(transportIndex, body)
		} else {
			slog.Debug("dropping out-of-band datagram that is not a connect request", "transport_index", transportIndex, "cmd", header.Cmd)
		}
		return
	}

	conn := s.Dispatcher.Pool.Get(header.ConnID)
	if conn == nil {
		slog.Debug("dropping datagram for unknown connection", "conn_id", header.ConnID)
		return
	}
	if conn.TransportIndex != transportIndex {
		slog.Debug("dropping datagram from mismatched transport index", "conn_id", header.ConnID)
		return
	}
	if !transport.VerifyIncoming(conn, header, body) {
		slog.Debug("dropping datagram with bad connection hash", "conn_id", header.ConnID)
		return
	}
	if !conn.AcceptIncoming(header.Seq) {
		return
	}

	switch header.Cmd {
	case protocol.CmdJoinGameRequest:
		s.handleJoinGameRequest(conn, header.ClientTime, body, nowMillis)
	case protocol.CmdGameStep:
		s.handleGameStep(conn, header.ClientTime, body, nowMillis)
	case protocol.CmdDownloadGameStateRequest:
		s.handleDownloadGameStateRequest(conn, header.ClientTime, body, nowMillis)
	case protocol.CmdDownloadGameStateStatus:
		s.handleDownloadGameStateStatus(conn, header.ClientTime, body, nowMillis)
	case protocol.CmdPingRequest:
		s.handlePingRequest(conn, header.ClientTime, body, nowMillis)
	default:
		slog.Debug("dropping datagram with unknown command", "conn_id", header.ConnID, "cmd", header.Cmd)
	}
}

func (s *Server) send(conn *transport.Connection, clientTime uint16, cmd protocol.ReplyCommand, body []byte) {
	datagram := transport.EncodeOutgoing(conn, clientTime, protocol.Command(cmd), body)
	if err := s.Transport.Send(conn.TransportIndex, datagram); err != nil {
		slog.Debug("send failed", "conn_id", conn.ID, "transport_index", conn.TransportIndex, "err", err)
		return
	}
	s.bytesSent += uint64(len(datagram))
}

func (s *Server) handleConnectRequest(transportIndex uint8, body []byte) {
	if !s.connectLimiterFor(transportIndex).Allow() {
		slog.Debug("connect request rate limited", "transport_index", transportIndex)
		return
	}
	req, err := protocol.DecodeConnectRequest(body)
	if err != nil {
		slog.Debug("malformed connect request", "transport_index", transportIndex, "err", err)
		return
	}
	conn, resp, err := s.Dispatcher.HandleConnectRequest(transportIndex, req.RequestNonce)
	if err != nil {
		slog.Warn("connect request rejected", "transport_index", transportIndex, "err", err)
		return
	}
	encoded := protocol.EncodeConnectResponse(resp)
	datagram := transport.EncodeOutgoing(conn, 0, protocol.Command(protocol.ReplyConnectResponse), encoded)
	if err := s.Transport.Send(transportIndex, datagram); err != nil {
		slog.Debug("connect response send failed", "transport_index", transportIndex, "err", err)
	}
}

func (s *Server) handleJoinGameRequest(conn *transport.Connection, clientTime uint16, body []byte, _ int64) {
	req, err := protocol.DecodeJoinGameRequest(body)
	if err != nil {
		slog.Debug("malformed join request", "conn_id", conn.ID, "err", err)
		return
	}
	resp, err := s.Dispatcher.HandleJoinGameRequest(conn, req)
	if err != nil {
		slog.Warn("join request rejected", "conn_id", conn.ID, "err", err)
		s.send(conn, clientTime, protocol.ReplyOutOfSlots, nil)
		return
	}
	s.send(conn, clientTime, protocol.ReplyJoinGameResponse, protocol.EncodeJoinGameResponse(resp))
}

func (s *Server) partyForConnection(conn *transport.Connection) *nimble.LocalParty {
	if !conn.HasParty {
		return nil
	}
	return s.Dispatcher.Parties[conn.AssignedPartyID]
}

func (s *Server) handleGameStep(conn *transport.Connection, clientTime uint16, body []byte, _ int64) {
	req, err := protocol.DecodeGameStepRequest(body)
	if err != nil {
		slog.Debug("malformed game step", "conn_id", conn.ID, "err", err)
		return
	}
	party := s.partyForConnection(conn)
	if party == nil {
		slog.Debug("game step for connection with no party", "conn_id", conn.ID)
		return
	}

	result := s.Dispatcher.HandleGameStep(party, nimble.StepID(req.FirstStepID), req.Payloads)
	if result.Fatal {
		slog.Warn("party dropped too many steps, disconnecting", "conn_id", conn.ID, "party_id", party.ID, "dropped", result.Dropped)
		conn.Disconnect("dropped step budget exceeded")
		return
	}

	ranges := s.Dispatcher.BuildGameStepResponseRanges(nimble.StepID(req.ClientWaitingForStepID), req.ReceiveMask)
	header := protocol.GameStepResponseHeader{
		LastReceivedStepFromClient: req.FirstStepID + uint32(len(req.Payloads)),
		BufferDelta:                int16(party.PendingSteps.Count()),
		AuthoritativeBufferDelta:   int16(s.Dispatcher.Game.AuthoritativeSteps.Count()),
	}
	respBody := protocol.EncodeGameStepResponseHeader(header)
	rangeBytes, dropped := protocol.EncodeStepRanges(ranges, protocol.HeaderSize+len(respBody), s.Dispatcher.MaxDatagramSize)
	if dropped > 0 {
		slog.Debug("dropped step ranges to fit datagram budget", "conn_id", conn.ID, "dropped", dropped)
	}
	respBody = append(respBody, rangeBytes...)
	s.send(conn, clientTime, protocol.ReplyGameStepResponse, respBody)
}

func (s *Server) handleDownloadGameStateRequest(conn *transport.Connection, clientTime uint16, body []byte, _ int64) {
	req, err := protocol.DecodeDownloadGameStateRequest(body)
	if err != nil {
		slog.Debug("malformed download request", "conn_id", conn.ID, "err", err)
		return
	}
	desc := s.BlobOut.HandleDownloadGameStateRequest(conn.ID, req.ClientRequestID)
	conn.BlobOutChannelID = desc.ChannelID
	conn.HasBlobOut = true
	conn.LastDownloadRequestID = req.ClientRequestID
	conn.HasDownloadRequest = true

	resp := protocol.DownloadGameStateResponse{
		ClientRequestID: req.ClientRequestID,
		OctetCount:      uint32(desc.TotalBytes),
		StepID:          uint32(desc.StepID),
		ChannelID:       desc.ChannelID,
	}
	s.send(conn, clientTime, protocol.ReplyDownloadGameStateResponse, protocol.EncodeDownloadGameStateResponse(resp))

	initial, _, _ := s.BlobOut.HandleDownloadGameStateStatus(conn.ID, 0)
	s.flushChunks(conn, clientTime, initial)
}

func (s *Server) handleDownloadGameStateStatus(conn *transport.Connection, clientTime uint16, body []byte, _ int64) {
	status, err := protocol.DecodeDownloadGameStateStatus(body)
	if err != nil {
		slog.Debug("malformed download status", "conn_id", conn.ID, "err", err)
		return
	}
	chunks, resumeStepID, ready := s.BlobOut.HandleDownloadGameStateStatus(conn.ID, int(status.ReceivedChunkCount))
	s.flushChunks(conn, clientTime, chunks)

	if ready {
		// A client resuming lockstep straight off a snapshot has no prior
		// receive-window state, so it has nothing already buffered to
		// report — an all-zero mask ("nothing received yet") is correct,
		// not a stand-in for a real mask.
		ranges := s.Dispatcher.BuildGameStepResponseRanges(resumeStepID, 0)
		respBody := protocol.EncodeGameStepResponseHeader(protocol.GameStepResponseHeader{
			LastReceivedStepFromClient: uint32(resumeStepID),
		})
		rangeBytes, _ := protocol.EncodeStepRanges(ranges, protocol.HeaderSize+len(respBody), s.Dispatcher.MaxDatagramSize)
		respBody = append(respBody, rangeBytes...)
		s.send(conn, clientTime, protocol.ReplyGameStepResponse, respBody)
		s.BlobOut.Release(conn.ID)
		conn.HasBlobOut = false
	}
}

func (s *Server) flushChunks(conn *transport.Connection, clientTime uint16, chunks []blobout.Chunk) {
	for _, c := range chunks {
		part := protocol.GameStatePart{
			ChannelID:  conn.BlobOutChannelID,
			ChunkIndex: uint32(c.Index),
			Data:       c.Data,
		}
		s.send(conn, clientTime, protocol.ReplyGameStatePart, protocol.EncodeGameStatePart(part))
	}
}

func (s *Server) handlePingRequest(conn *transport.Connection, clientTime uint16, body []byte, nowMillis int64) {
	req, err := protocol.DecodePingRequest(body)
	if err != nil {
		slog.Debug("malformed ping", "conn_id", conn.ID, "err", err)
		return
	}
	resp := s.Dispatcher.HandlePingRequest(req, nowMillis)
	s.send(conn, clientTime, protocol.ReplyPongResponse, protocol.EncodePongResponse(resp))
}

// Stats implements admin.StatsFunc: a read-only diagnostic snapshot of
// the dispatcher's current parties and participants (§5's "all mutable
// state owned by the tick loop" policy — this is the one sanctioned
// read from outside it, taken between ticks).
func (s *Server) Stats() admin.Stats {
	detail := make([]admin.PartyStats, 0, len(s.Dispatcher.Parties))
	for _, p := range s.Dispatcher.Parties {
		detail = append(detail, admin.PartyStats{
			ID:              p.ID,
			State:           p.State.String(),
			ParticipantIDs:  append([]uint8(nil), p.ParticipantIDs...),
			ForcedStepInRow: p.Quality.ForcedStepInRow(),
			HasTransport:    p.HasTransport,
		})
	}
	return admin.Stats{
		Parties:                 len(s.Dispatcher.Parties),
		Participants:            s.Dispatcher.Game.Participants.Count(),
		ParticipantCapacity:     s.Dispatcher.Game.Participants.Capacity(),
		AuthoritativeWriteID:    uint32(s.Dispatcher.Game.ExpectedWriteID()),
		AuthoritativeBufferUsed: s.Dispatcher.Game.AuthoritativeSteps.Count(),
		PartyDetail:             detail,
	}
}
