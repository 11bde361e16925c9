// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/runs/:id/ws or /api/v1/workflows/:id/ws to
// receive run and step lifecycle events as they happen.
package websocket
