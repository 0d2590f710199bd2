package utils

import "errors"

// Engine error taxonomy. Callers match these with errors.Is; most engine
// functions wrap them with operation context via fmt.Errorf and %w.
var (
	// ErrInitializationFailed means the store or engine could not start.
	// Fatal: the caller should fall back to a non-resumable download.
	ErrInitializationFailed = errors.New("engine initialization failed")

	// ErrConcurrentActive means another page session (this process or
	// another one sharing the store) already holds an active transfer.
	ErrConcurrentActive = errors.New("another download session is active")

	// ErrInvalidSettings means concurrency or chunk size is out of bounds.
	ErrInvalidSettings = errors.New("invalid transfer settings")

	// ErrStorageInsufficient means the quota check failed for the
	// requested size.
	ErrStorageInsufficient = errors.New("insufficient storage for download")

	// ErrResumeUnavailable means no persisted metadata exists to resume.
	ErrResumeUnavailable = errors.New("no resumable download found")

	// ErrNetworkInterrupted means a range fetch exhausted its retry
	// budget. The transfer stays resumable with completed chunks intact.
	ErrNetworkInterrupted = errors.New("download interrupted by network failure")

	// ErrAssemblyFailed means the persisted chunk set has a gap or size
	// mismatch. Not resumable without clearing and restarting.
	ErrAssemblyFailed = errors.New("chunk assembly failed")

	// ErrRangeRequestsNotSupported is reported by the metadata probe when
	// the server does not advertise byte-range support.
	ErrRangeRequestsNotSupported = errors.New("server does not support range requests")
)
