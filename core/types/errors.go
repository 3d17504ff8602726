package types

import "errors"

// ErrBadAddress is returned by any ingestion path that is handed a
// malformed address (channel message, chain log decode, CLI input).
var ErrBadAddress = errors.New("types: malformed address")
