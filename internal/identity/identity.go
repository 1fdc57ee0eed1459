// Package identity resolves the committer identity an engine stamps onto
// registry rows it writes, and mints opaque run ids (NewRunID) for log
// correlation.
package identity

import (
	"os"

	"github.com/google/uuid"
)

// Identity names the person running a deploy/revert/verify operation.
type Identity struct {
	Name  string
	Email string
}

// FromEnvironment resolves the operator identity from environment
// variables in sqitch's precedence order: SQITCH_USER_NAME falls back to
// USER; SQITCH_USER_EMAIL falls back to EMAIL. Either half may come back
// empty if neither variable is set — callers decide whether that's fatal.
func FromEnvironment() Identity {
	name := os.Getenv("SQITCH_USER_NAME")
	if name == "" {
		name = os.Getenv("USER")
	}

	email := os.Getenv("SQITCH_USER_EMAIL")
	if email == "" {
		email = os.Getenv("EMAIL")
	}

	return Identity{Name: name, Email: email}
}

// NewRunID mints an opaque identifier for one deploy/revert/verify
// invocation. The engine and the CLI do not call it or attach its result
// to their log lines themselves.
func NewRunID() string {
	return uuid.NewString()
}
