package model

import "errors"

var (
	// ErrMalformedMessage is returned when an inbound payload is not a JSON object.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrPeerNotConnected is returned when a message arrives from a peer that
	// is no longer in the peer set.
	ErrPeerNotConnected = errors.New("peer not connected")

	// ErrPeerClosed is returned when sending to a peer whose connection is closed.
	ErrPeerClosed = errors.New("peer closed")

	// ErrSendBufferFull is returned when a peer's send queue is full.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrPeerNotFound is returned when an audit record does not exist.
	ErrPeerNotFound = errors.New("peer not found")
)
