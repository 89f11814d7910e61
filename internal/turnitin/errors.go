package turnitin

import "errors"

// The error taxonomy for everything that can go wrong while talking to the
// external platform. Callers classify with errors.Is; every call site wraps
// these with request context.
var (
	// ErrAuth indicates bad or missing credentials, including a detected
	// login redirect inside an otherwise successful response.
	ErrAuth = errors.New("turnitin: authentication failed")

	// ErrNotFound indicates an expected HTML or JSON element was absent,
	// usually external schema drift. Not retried.
	ErrNotFound = errors.New("turnitin: expected element not found")

	// ErrTimeout indicates a bounded poll or retry loop was exhausted.
	ErrTimeout = errors.New("turnitin: polling exhausted")

	// ErrIntegrity indicates post-submission content did not match what was
	// uploaded.
	ErrIntegrity = errors.New("turnitin: submission integrity check failed")

	// ErrTransient indicates a non-2xx response or transport failure that may
	// succeed on a later sweep.
	ErrTransient = errors.New("turnitin: transient request failure")
)
