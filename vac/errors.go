package vac

import "fmt"

// RequestError is an error answer from the API, or a response body that
// could not be read as one. Retry marks errors the transport is allowed
// to resubmit.
type RequestError struct {
	HTTPStatusCode int
	Code           string
	Message        string
	Hint           string
	Retry          bool
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s (Code: %s Hint: %s)", e.Message, e.Code, e.Hint)
}

// JobError reports a job that finished in a state other than done, so
// no result is available.
type JobError struct {
	JID    int64
	Status string
	Stderr string
}

func (e *JobError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("job %d ended %s: %s", e.JID, e.Status, e.Stderr)
	}
	return fmt.Sprintf("job %d ended %s", e.JID, e.Status)
}

// ConfigError reports missing or unreadable client configuration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// SyncError reports the path at which a volume sync broke off. The rest
// of the tree is left untouched.
type SyncError struct {
	Path string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed at %s: %v", e.Path, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
