package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"nimble/server/internal/admin"
	"nimble/server/internal/blobout"
	"nimble/server/internal/nimble"
	"nimble/server/internal/transport"
	"nimble/server/transportadapter"
)

// secureRandUint64 is the secure RNG external collaborator (§1) the
// dispatcher uses for connection secrets and party secrets.
func secureRandUint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("main: crypto/rand unavailable: " + err.Error())
	}
	return binary.BigEndian.Uint64(buf[:])
}

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:]) {
			return
		}
	}

	addr := flag.String("addr", ":8443", "QUIC/WebTransport listen address")
	adminAddr := flag.String("admin-addr", ":8080", "read-only diagnostics API listen address (empty to disable)")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	maxConnections := flag.Int("max-connections", nimble.MaxConnections, "maximum transport connections")
	maxParticipants := flag.Int("max-participants", nimble.MaxParticipants, "maximum participants")
	connectRate := flag.Float64("connect-rate", defaultConnectRatePerSecond, "max ConnectRequests per second per transport index")
	connectBurst := flag.Int("connect-burst", defaultConnectBurst, "connect rate limiter burst allowance")
	testHarnessName := flag.String("test-harness", "", "name for a synthetic local participant feeding dummy steps (empty to disable)")
	tick := flag.Duration("tick", defaultTickInterval, "server tick interval")
	flag.Parse()

	tlsHostname := ""
	if host, _, err := net.SplitHostPort(*addr); err == nil && host != "" {
		tlsHostname = host
	}

	tlsConfig, fingerprint, err := transportadapter.GenerateTLSConfig(*certValidity, tlsHostname)
	if err != nil {
		slog.Error("generate TLS config", "err", err)
		os.Exit(1)
	}
	slog.Info("TLS certificate fingerprint", "fingerprint", fingerprint)

	quic := transportadapter.NewQuicTransport(*addr, tlsConfig, "/nimble", *maxConnections, defaultInboundQueueSize)

	pool := transport.NewPool(*maxConnections)
	game := nimble.NewGame(*maxParticipants)
	dispatcher := transport.NewDispatcher(pool, game, secureRandUint64)

	var gameState nimble.StepID
	blobManager := blobout.NewManager(func() blobout.GameState {
		return blobout.GameState{Bytes: nil, StepID: gameState}
	}, nimble.BlobStreamChunkSize)

	srv := NewServer(quic, dispatcher, blobManager, *connectRate, *connectBurst, tick.Milliseconds())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	go func() {
		if err := quic.ListenAndServe(); err != nil {
			slog.Error("quic listener stopped", "err", err)
			cancel()
		}
	}()
	defer quic.Close()

	if *adminAddr != "" {
		adminServer := admin.New(srv.Stats)
		go func() {
			if err := adminServer.Run(ctx, *adminAddr); err != nil {
				slog.Error("admin server stopped", "err", err)
			}
		}()
		slog.Info("admin diagnostics listening", "addr", *adminAddr)
	}

	go RunMetrics(ctx, srv, defaultMetricsInterval)

	if *testHarnessName != "" {
		go RunTestHarness(ctx, srv, *testHarnessName, 50*time.Millisecond)
	}

	slog.Info("server listening", "addr", *addr)
	runTickLoop(ctx, srv, *tick)
}

// runTickLoop calls Server.Update at a fixed cadence until ctx is
// canceled, matching §4.9's "one update(now_ms) call per tick" model.
func runTickLoop(ctx context.Context, srv *Server, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := srv.Update(now.UnixMilli()); err != nil {
				slog.Error("server tick degraded, a host migration may be warranted", "err", err)
			}
		}
	}
}
