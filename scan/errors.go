package scan

import "errors"

// Failure classes. Every error returned by Scanner matches exactly one of
// these with errors.Is; the executor's own error stays reachable too.
var (
	ErrAllocation = errors.New("scan: buffer allocation failed")
	ErrDispatch   = errors.New("scan: dispatch failed")
	ErrContract   = errors.New("scan: contract violation")
)
