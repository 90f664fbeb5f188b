// Package timeutil provides a small clock abstraction so components that
// stamp timestamps can be tested deterministically.
package timeutil

import "time"

// Provider supplies the current time. Components take a Provider instead of
// calling time.Now directly so tests can substitute a fake clock.
type Provider interface {
	// Now returns the current time.
	Now() time.Time
}

type realProvider struct{}

func (realProvider) Now() time.Time { return time.Now() }

// Default returns a Provider backed by the system clock.
func Default() Provider { return realProvider{} }
