// Package api provides the HTTP REST API and WebSocket server for Shadow Core.
//
// It exposes shadow document operations to applications and dashboards, and
// fans accepted mutations out to WebSocket clients watching individual
// devices.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Subscriptions are per-device: a WebSocket client connects to
// /api/v1/shadows/{id}/ws and receives only that device's updates. The
// originator of a mutation receives a direct acknowledgement frame rather
// than the broadcast, so no client ever sees its own write twice.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
