package crawl

import "errors"

// ErrAuthRejected signals that the remote side rejected the shared
// session credentials mid-unit. The scheduler reacts by refreshing the
// session and retrying the attempt.
var ErrAuthRejected = errors.New("session credentials rejected")

// ErrNotFound signals that the remote side reported the key does not
// exist. Callers treat it as a terminal per-key answer rather than a
// transient failure.
var ErrNotFound = errors.New("document not found")
