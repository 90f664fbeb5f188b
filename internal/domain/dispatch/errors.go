package dispatch

import "errors"

// ErrGroupNotFound is the single categorical failure the dispatch engine
// surfaces out-of-band: a fan-out addressed an unknown fleet. Every other
// failure is data on the DispatchResult.
var ErrGroupNotFound = errors.New("fleet not found")
