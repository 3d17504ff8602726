package ledger

import "errors"

// ErrNoBlock is returned by GetProofAt when the requested blockNumber has
// not been committed.
var ErrNoBlock = errors.New("ledger: block not committed")

// ErrNotAMember is returned by GetProofAt when the address never appeared
// in the requested block's snapshot.
var ErrNotAMember = errors.New("ledger: address not a member of that block")

// ErrStoreFailure wraps any error surfaced by the injected Store; per
// this is fatal and the caller (operator/watcher) should restart.
var ErrStoreFailure = errors.New("ledger: store failure")
