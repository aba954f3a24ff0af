package main

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"nimble/server/internal/nimble"
	"nimble/server/internal/protocol"
)

// RunTestHarness drives a synthetic single-player party directly
// against srv's Dispatcher, feeding an incrementing dummy step payload
// on a fixed cadence. It never touches the network — there is no real
// Transport on the other end — so it is useful only for manually
// exercising the tick loop and composer without a client attached,
// the same role a virtual client injected straight into a room (rather
// than over a real connection) plays elsewhere.
func RunTestHarness(ctx context.Context, srv *Server, name string, tick time.Duration) {
	conn := srv.Dispatcher.Pool.Allocate(0, 0, 0)
	if conn == nil {
		slog.Warn("test harness: connection pool exhausted, not starting", "name", name)
		return
	}
	resp, err := srv.Dispatcher.HandleJoinGameRequest(conn, protocol.JoinGameRequest{LocalPlayerCount: 1})
	if err != nil {
		slog.Warn("test harness: join failed", "name", name, "err", err)
		srv.Dispatcher.Pool.Release(conn.ID)
		return
	}
	party := srv.Dispatcher.Parties[conn.AssignedPartyID]
	slog.Info("test harness party joined", "name", name, "party_id", party.ID, "participant_ids", resp.ParticipantIDs)

	defer func() {
		conn.Disconnect("test harness stopped")
		slog.Info("test harness stopped", "name", name)
	}()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var counter uint32
	nextStepID := srv.Dispatcher.Game.ExpectedWriteID()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, counter)
		counter++

		result := srv.Dispatcher.HandleGameStep(party, nextStepID, [][]byte{payload})
		if result.Fatal {
			slog.Warn("test harness party fell too far behind, stopping", "name", name)
			return
		}
		nextStepID += nimble.StepID(result.Written)
	}
}
