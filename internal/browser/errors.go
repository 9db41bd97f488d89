package browser

import "fmt"

// LaunchError means the browser process or its debugging connection could
// not be established. It is fatal to the requested operation and never retried.
type LaunchError struct {
	Endpoint string
	Attach   bool
	Err      error
}

func (e *LaunchError) Error() string {
	verb := "launch"
	if e.Attach {
		verb = "attach to"
	}
	return fmt.Sprintf("failed to %s browser at %s: %v", verb, e.Endpoint, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// NoTargetError means the session exposes no page target to scan.
type NoTargetError struct {
	Endpoint string
	Seen     int // Targets of any type that were listed.
}

func (e *NoTargetError) Error() string {
	return fmt.Sprintf("no page target available at %s (%d non-page targets listed)", e.Endpoint, e.Seen)
}
