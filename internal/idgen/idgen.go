// Package idgen wraps the UUID generator so that it can be stubbed in tests.
// Thread and address-space identifiers are opaque strings used as debug
// registry keys; callers must not parse them.
package idgen

import "github.com/google/uuid"

// NewFunc returns a new globally unique identifier.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new identifier prefixed with kind, e.g. "thread/1b4e...".
func New(kind string) string {
	if kind == "" {
		return NewFunc()
	}
	return kind + "/" + NewFunc()
}
