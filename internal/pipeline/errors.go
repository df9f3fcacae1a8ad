package pipeline

import "errors"

// Sentinel errors shared across the pipeline. Callers classify failures with
// errors.Is rather than by inspecting strings.
var (
	// ErrEmptyQueue is returned by Dequeue when no item is pending.
	// Callers should check IsEmpty first or treat this as the
	// termination signal for a drain loop.
	ErrEmptyQueue = errors.New("queue is empty")

	// ErrScopeRejected marks a URL outside the configured base authority.
	// It is a deliberate skip, not a failure.
	ErrScopeRejected = errors.New("url outside crawl scope")

	// ErrRobotsDisallowed marks a URL the site's robots policy forbids.
	// Like ErrScopeRejected it is silently dropped by the phases.
	ErrRobotsDisallowed = errors.New("robots policy disallows url")

	// ErrFetchFailed is returned once the download retry budget is
	// exhausted or the failure is unrecoverable. It is surfaced to the
	// calling phase, which decides between re-enqueue and abort.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrStoreWrite indicates a durability-layer write failure. It is
	// fatal to the current operation and never retried internally.
	ErrStoreWrite = errors.New("store write failed")

	// ErrStoreRead indicates a durability-layer read failure during replay.
	ErrStoreRead = errors.New("store read failed")

	// ErrExtraction marks a user extraction function failing on one
	// record. The extract phase logs it and continues.
	ErrExtraction = errors.New("record extraction failed")
)
