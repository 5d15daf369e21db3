// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime telemetry for sheets-ws: Prometheus collectors for connection
// lifecycle, frame traffic and handshake outcomes. Metrics implements
// protocol.Stats so connections report into it directly.
package control
