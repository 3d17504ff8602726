package merkle

import "errors"

// ErrEmptyInput is returned by Build when handed zero members. This is an
// internal error never expected in normal operation: the state engine
// should never try to commit a block with no members.
var ErrEmptyInput = errors.New("merkle: cannot build a tree over zero members")

// ErrNotFound is returned by Tree.Path when the requested address has no
// leaf in the tree.
var ErrNotFound = errors.New("merkle: address not found in tree")
