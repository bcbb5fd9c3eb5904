package genaiti

import (
	"errors"

	"github.com/ntealan/genaiti/session"
)

var (
	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("genaiti: invalid configuration")

	// ErrSessionNotFound is returned when a session ID does not exist.
	ErrSessionNotFound = session.ErrNotFound

	// ErrClosed is returned by an assistant after Close.
	ErrClosed = errors.New("genaiti: assistant closed")

	// ErrNoGraph is returned when the graph store cannot be reached.
	ErrNoGraph = errors.New("genaiti: graph store unavailable")
)
