package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// RunMetrics logs throughput and party/participant counters every
// interval until ctx is canceled, reading Server.Stats()/Throughput()
// and formatting with go-humanize instead of a hand rolled "%.1f KB/s".
func RunMetrics(ctx context.Context, srv *Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastBytesReceived, lastBytesSent uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			received, sent, datagrams := srv.Throughput()
			deltaReceived := received - lastBytesReceived
			deltaSent := sent - lastBytesSent
			lastBytesReceived, lastBytesSent = received, sent

			stats := srv.Stats()
			if stats.Parties == 0 && deltaReceived == 0 && deltaSent == 0 {
				continue
			}
			slog.Info("metrics",
				"parties", stats.Parties,
				"participants", stats.Participants,
				"authoritative_write_id", stats.AuthoritativeWriteID,
				"datagrams_total", datagrams,
				"in", humanize.Bytes(deltaReceived)+"/"+interval.String(),
				"out", humanize.Bytes(deltaSent)+"/"+interval.String(),
			)
		}
	}
}
