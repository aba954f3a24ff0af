package protocol

import (
	"encoding/binary"
	"errors"
)

var errShortMessage = errors.New("protocol: datagram too short for this message")

// EncodeConnectRequest/DecodeConnectRequest: the out-of-band handshake
// body (§4.5). Layout: transport_index(1) | request_nonce(8).
func EncodeConnectRequest(r ConnectRequest) []byte {
	buf := make([]byte, 9)
	buf[0] = r.TransportIndex
	binary.BigEndian.PutUint64(buf[1:9], r.RequestNonce)
	return buf
}

func DecodeConnectRequest(buf []byte) (ConnectRequest, error) {
	if len(buf) < 9 {
		return ConnectRequest{}, errShortMessage
	}
	return ConnectRequest{
		TransportIndex: buf[0],
		RequestNonce:   binary.BigEndian.Uint64(buf[1:9]),
	}, nil
}

// EncodeConnectResponse/DecodeConnectResponse. Layout:
// connection_id(1) | secret(8) | use_debug_streams(1).
func EncodeConnectResponse(r ConnectResponse) []byte {
	buf := make([]byte, 10)
	buf[0] = r.ConnectionID
	binary.BigEndian.PutUint64(buf[1:9], r.Secret)
	if r.UseDebugStreams {
		buf[9] = 1
	}
	return buf
}

func DecodeConnectResponse(buf []byte) (ConnectResponse, error) {
	if len(buf) < 10 {
		return ConnectResponse{}, errShortMessage
	}
	return ConnectResponse{
		ConnectionID:    buf[0],
		Secret:          binary.BigEndian.Uint64(buf[1:9]),
		UseDebugStreams: buf[9] != 0,
	}, nil
}

// EncodeJoinGameRequest/DecodeJoinGameRequest. Layout:
// kind(1) | connection_secret(8) | host_migration_participant(1) | local_player_count(1).
func EncodeJoinGameRequest(r JoinGameRequest) []byte {
	buf := make([]byte, 11)
	buf[0] = byte(r.Kind)
	binary.BigEndian.PutUint64(buf[1:9], r.ConnectionSecret)
	buf[9] = r.HostMigrationParticipant
	buf[10] = r.LocalPlayerCount
	return buf
}

func DecodeJoinGameRequest(buf []byte) (JoinGameRequest, error) {
	if len(buf) < 11 {
		return JoinGameRequest{}, errShortMessage
	}
	return JoinGameRequest{
		Kind:                     JoinKind(buf[0]),
		ConnectionSecret:         binary.BigEndian.Uint64(buf[1:9]),
		HostMigrationParticipant: buf[9],
		LocalPlayerCount:         buf[10],
	}, nil
}

// EncodeJoinGameResponse/DecodeJoinGameResponse. Layout:
// connection_index(1) | secret(8) | participant_count(1) | (id(1) | local_index(1)) * count.
func EncodeJoinGameResponse(r JoinGameResponse) []byte {
	n := len(r.ParticipantIDs)
	buf := make([]byte, 10+2*n)
	buf[0] = r.ConnectionIndex
	binary.BigEndian.PutUint64(buf[1:9], r.Secret)
	buf[9] = uint8(n)
	for i := 0; i < n; i++ {
		buf[10+2*i] = r.ParticipantIDs[i]
		buf[11+2*i] = r.LocalIndices[i]
	}
	return buf
}

func DecodeJoinGameResponse(buf []byte) (JoinGameResponse, error) {
	if len(buf) < 10 {
		return JoinGameResponse{}, errShortMessage
	}
	n := int(buf[9])
	if len(buf) < 10+2*n {
		return JoinGameResponse{}, errShortMessage
	}
	ids := make([]uint8, n)
	indices := make([]uint8, n)
	for i := 0; i < n; i++ {
		ids[i] = buf[10+2*i]
		indices[i] = buf[11+2*i]
	}
	return JoinGameResponse{
		ParticipantIDs:  ids,
		LocalIndices:    indices,
		ConnectionIndex: buf[0],
		Secret:          binary.BigEndian.Uint64(buf[1:9]),
	}, nil
}

// EncodeGameStepRequest/DecodeGameStepRequest builds the GameStep body
// (§4.7 steps 1-2): the client's pending-steps header (receive-window
// pointer + receive-mask), then the run of predicted step payloads
// starting at first_step_id. Layout: client_waiting_for_step_id(4) |
// receive_mask(8) | first_step_id(4) | steps_that_follow(1) |
// (payload_len(2) | payload)*.
type GameStepRequest struct {
	ClientWaitingForStepID uint32
	ReceiveMask            uint64
	FirstStepID            uint32
	Payloads               [][]byte
}

func EncodeGameStepRequest(r GameStepRequest) []byte {
	size := 4 + 8 + 4 + 1
	for _, p := range r.Payloads {
		size += 2 + len(p)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], r.ClientWaitingForStepID)
	binary.BigEndian.PutUint64(buf[4:12], r.ReceiveMask)
	binary.BigEndian.PutUint32(buf[12:16], r.FirstStepID)
	buf[16] = uint8(len(r.Payloads))
	offset := 17
	for _, p := range r.Payloads {
		binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(p)))
		offset += 2
		copy(buf[offset:], p)
		offset += len(p)
	}
	return buf
}

func DecodeGameStepRequest(buf []byte) (GameStepRequest, error) {
	if len(buf) < 17 {
		return GameStepRequest{}, errShortMessage
	}
	r := GameStepRequest{
		ClientWaitingForStepID: binary.BigEndian.Uint32(buf[0:4]),
		ReceiveMask:            binary.BigEndian.Uint64(buf[4:12]),
		FirstStepID:            binary.BigEndian.Uint32(buf[12:16]),
	}
	count := int(buf[16])
	offset := 17
	for i := 0; i < count; i++ {
		if len(buf) < offset+2 {
			return GameStepRequest{}, errShortMessage
		}
		plen := int(binary.BigEndian.Uint16(buf[offset : offset+2]))
		offset += 2
		if len(buf) < offset+plen {
			return GameStepRequest{}, errShortMessage
		}
		payload := make([]byte, plen)
		copy(payload, buf[offset:offset+plen])
		offset += plen
		r.Payloads = append(r.Payloads, payload)
	}
	return r, nil
}

// EncodeGameStepResponseHeader/DecodeGameStepResponseHeader. Layout:
// last_received_step_from_client(4) | buffer_delta(2) | authoritative_buffer_delta(2).
func EncodeGameStepResponseHeader(h GameStepResponseHeader) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], h.LastReceivedStepFromClient)
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.BufferDelta))
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.AuthoritativeBufferDelta))
	return buf
}

func DecodeGameStepResponseHeader(buf []byte) (GameStepResponseHeader, error) {
	if len(buf) < 8 {
		return GameStepResponseHeader{}, errShortMessage
	}
	return GameStepResponseHeader{
		LastReceivedStepFromClient: binary.BigEndian.Uint32(buf[0:4]),
		BufferDelta:                int16(binary.BigEndian.Uint16(buf[4:6])),
		AuthoritativeBufferDelta:   int16(binary.BigEndian.Uint16(buf[6:8])),
	}, nil
}

// EncodeDownloadGameStateRequest/DecodeDownloadGameStateRequest. Layout:
// client_request_id(4).
func EncodeDownloadGameStateRequest(r DownloadGameStateRequest) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, r.ClientRequestID)
	return buf
}

func DecodeDownloadGameStateRequest(buf []byte) (DownloadGameStateRequest, error) {
	if len(buf) < 4 {
		return DownloadGameStateRequest{}, errShortMessage
	}
	return DownloadGameStateRequest{ClientRequestID: binary.BigEndian.Uint32(buf)}, nil
}

// EncodeDownloadGameStateResponse/DecodeDownloadGameStateResponse.
// Layout: client_request_id(4) | octet_count(4) | step_id(4) | channel_id(4).
func EncodeDownloadGameStateResponse(r DownloadGameStateResponse) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], r.ClientRequestID)
	binary.BigEndian.PutUint32(buf[4:8], r.OctetCount)
	binary.BigEndian.PutUint32(buf[8:12], r.StepID)
	binary.BigEndian.PutUint32(buf[12:16], r.ChannelID)
	return buf
}

func DecodeDownloadGameStateResponse(buf []byte) (DownloadGameStateResponse, error) {
	if len(buf) < 16 {
		return DownloadGameStateResponse{}, errShortMessage
	}
	return DownloadGameStateResponse{
		ClientRequestID: binary.BigEndian.Uint32(buf[0:4]),
		OctetCount:      binary.BigEndian.Uint32(buf[4:8]),
		StepID:          binary.BigEndian.Uint32(buf[8:12]),
		ChannelID:       binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// EncodeDownloadGameStateStatus/DecodeDownloadGameStateStatus. Layout:
// channel_id(4) | received_chunk_count(4).
func EncodeDownloadGameStateStatus(r DownloadGameStateStatus) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], r.ChannelID)
	binary.BigEndian.PutUint32(buf[4:8], r.ReceivedChunkCount)
	return buf
}

func DecodeDownloadGameStateStatus(buf []byte) (DownloadGameStateStatus, error) {
	if len(buf) < 8 {
		return DownloadGameStateStatus{}, errShortMessage
	}
	return DownloadGameStateStatus{
		ChannelID:        binary.BigEndian.Uint32(buf[0:4]),
		ReceivedChunkCount: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// GameStatePart is one blob-out chunk datagram body (§4.8): the channel
// it belongs to, its chunk index, and the chunk bytes.
type GameStatePart struct {
	ChannelID  uint32
	ChunkIndex uint32
	Data       []byte
}

func EncodeGameStatePart(p GameStatePart) []byte {
	buf := make([]byte, 8+len(p.Data))
	binary.BigEndian.PutUint32(buf[0:4], p.ChannelID)
	binary.BigEndian.PutUint32(buf[4:8], p.ChunkIndex)
	copy(buf[8:], p.Data)
	return buf
}

func DecodeGameStatePart(buf []byte) (GameStatePart, error) {
	if len(buf) < 8 {
		return GameStatePart{}, errShortMessage
	}
	data := make([]byte, len(buf)-8)
	copy(data, buf[8:])
	return GameStatePart{
		ChannelID:  binary.BigEndian.Uint32(buf[0:4]),
		ChunkIndex: binary.BigEndian.Uint32(buf[4:8]),
		Data:       data,
	}, nil
}

// EncodePingRequest/DecodePingRequest and EncodePongResponse/DecodePongResponse.
func EncodePingRequest(r PingRequest) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, r.ClientTime)
	return buf
}

func DecodePingRequest(buf []byte) (PingRequest, error) {
	if len(buf) < 2 {
		return PingRequest{}, errShortMessage
	}
	return PingRequest{ClientTime: binary.BigEndian.Uint16(buf)}, nil
}

func EncodePongResponse(r PongResponse) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], r.ClientTime)
	binary.BigEndian.PutUint16(buf[2:4], r.ServerTime)
	return buf
}

func DecodePongResponse(buf []byte) (PongResponse, error) {
	if len(buf) < 4 {
		return PongResponse{}, errShortMessage
	}
	return PongResponse{
		ClientTime: binary.BigEndian.Uint16(buf[0:2]),
		ServerTime: binary.BigEndian.Uint16(buf[2:4]),
	}, nil
}
