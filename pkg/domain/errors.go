package domain

import "errors"

// Common domain errors
var (
	// ErrUnauthenticated is returned when a connection attempt carries no
	// valid bearer token
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrConnectionClosed is returned when trying to use a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a connection's outbound buffer is
	// saturated and a write cannot be queued
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrNotConnected is returned by the client when an operation requires
	// an established connection
	ErrNotConnected = errors.New("not connected to server")
)
