// Package server runs a local control plane: an in-memory mockplane served
// over the termlink websocket protocol on a unix socket or TCP address.
//
// Routes:
//   - /         websocket handshake (controlplane.Handler)
//   - /metrics  Prometheus metrics
//   - /healthz  liveness
//
// Sessions run real shells on a PTY when a shell is configured and the
// scripted fake otherwise.
package server
