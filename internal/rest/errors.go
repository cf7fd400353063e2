package rest

import "errors"

// ErrUnauthorized signals that the bearer token was rejected. The
// supervisor reacts by tearing down the push channel and refusing to
// reconnect until a fresh token is supplied.
var ErrUnauthorized = errors.New("unauthorized")
