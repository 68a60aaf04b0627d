// Package asyncerr collects the sentinel errors the async query subsystem
// raises across its package boundaries, grounded on the teacher's
// chotki_errors package (a single flat file of errors.New sentinels
// shared by every other package).
package asyncerr

import "errors"

var (
	// ErrStaleSnapshot is returned, wrapped, by storage.Store's ImportQuery
	// and ImportView when the importing snapshot has not seen the version
	// the packet was exported at. Query.Deliver does not return it: a
	// version mismatch there yields (false, nil) and leaves the handover in
	// place for the coordinator to retry.
	ErrStaleSnapshot = errors.New("asyncquery: handover version does not match consumer snapshot")

	// ErrTargetReleased is returned when the consumer's results handle
	// has already been released (Query.Unregister was called).
	ErrTargetReleased = errors.New("asyncquery: target results handle released")

	// ErrWrongConsumerThread is returned by Query.Deliver when called from
	// a thread other than the one recorded at registration.
	ErrWrongConsumerThread = errors.New("asyncquery: deliver called from the wrong consumer thread")

	// ErrAlreadyConsumed is returned by a handover Packet's Export/Import
	// once it has already been consumed once; the packet is move-only.
	ErrAlreadyConsumed = errors.New("asyncquery: handover packet already consumed")

	// ErrNotAttached is returned by Detach when the query has no imported
	// compiled query to work with, and by Attach when it holds no handover
	// packet to import.
	ErrNotAttached = errors.New("asyncquery: query is not attached to a snapshot")

	// ErrAlreadyAttached is returned by Attach when the query is not in
	// the Unattached state.
	ErrAlreadyAttached = errors.New("asyncquery: query is already attached")

	// ErrTokenNotFound is returned by Registry.Remove for an unknown or
	// already-removed token.
	ErrTokenNotFound = errors.New("asyncquery: callback token not found")

	// ErrPathTooDeep names the watched-path recursion bound being exceeded.
	// The row-diff engine's walk does not return it: past the configured
	// bound the walk reports "not modified".
	ErrPathTooDeep = errors.New("asyncquery: watched path recursion bound exceeded")
)
