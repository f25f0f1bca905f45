//go:build tools
// +build tools

// Package roomsync pins build-time tools (mockgen, run through go generate)
// in go.mod so a fresh checkout can regenerate the mocks.
package roomsync

import (
	_ "go.uber.org/mock/mockgen"
)
