// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error values shared across sheets-ws packages.

package api

import "errors"

// Common errors used across the library.
var (
	ErrTransportClosed = errors.New("transport is closed")
	ErrInvalidArgument = errors.New("invalid argument")
)
