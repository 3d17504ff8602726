package watcher

import "errors"

// ErrConfigMismatch is returned when the persisted checkpoint's contract
// configuration diverges from what the watcher was started with. Fatal.
var ErrConfigMismatch = errors.New("watcher: persisted config does not match startup config")

// ErrCachePruned is returned when a replay is requested from before the
// message cache's pruning horizon. The caller must fully resync from
// persisted state instead.
var ErrCachePruned = errors.New("watcher: requested replay point is before the cache pruning horizon")

// ErrReorgInvariantViolated is returned when a chain log that was already
// applied to State is reported removed by a reorg. Fatal; upstream policy
// is to restart with reset requested.
var ErrReorgInvariantViolated = errors.New("watcher: an already-applied chain event was removed by a reorg")
