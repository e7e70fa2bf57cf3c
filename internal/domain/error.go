package domain

import "errors"

var (
	// ErrBadMessage marks overlay payloads that failed to decode or
	// validate; the p2p layer drops and counts them.
	ErrBadMessage = errors.New("malformed chat message")

	// ErrNotConnected marks operations against a closed session, router
	// view or overlay node.
	ErrNotConnected = errors.New("not connected")
)
