package main

import "time"

// Operational limits — named constants for values that are wiring
// concerns of this server binary, not domain invariants (those live in
// internal/nimble/constants.go).
const (
	// defaultConnectRatePerSecond bounds how many ConnectRequests a
	// single transport index may mint per second before being rate
	// limited (the datagram-layer analogue of a per-client control
	// message rate limit).
	defaultConnectRatePerSecond = 5.0

	// defaultConnectBurst is the token bucket's burst allowance for the
	// connect rate limiter above.
	defaultConnectBurst = 10

	// defaultTickInterval is how often Server.Update runs (§4.9 assumes
	// a fixed server tick rate; 50 Hz matches a voice frame cadence).
	defaultTickInterval = 20 * time.Millisecond

	// defaultMetricsInterval is how often RunMetrics logs a throughput
	// snapshot.
	defaultMetricsInterval = 5 * time.Second

	// defaultInboundQueueSize bounds how many datagrams the
	// transportadapter's inbound queue, shared by all session read loops,
	// may buffer before new arrivals are dropped with a warning.
	defaultInboundQueueSize = 256
)
