package domain

import "fmt"

// StorageError marks a failed partition operation. The ingestion caller
// treats it as a failed crawl-save: logged, retried on the next cycle.
type StorageError struct {
	Partition string
	Op        string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s on partition %s: %v", e.Op, e.Partition, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TransientRemoteError marks a classifier or sink failure that is worth
// retrying: timeout, connection failure, or a 5xx answer.
type TransientRemoteError struct {
	Op     string
	Status int // HTTP status when known, 0 otherwise
	Err    error
}

func (e *TransientRemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient remote error (HTTP %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient remote error: %v", e.Op, e.Err)
}

func (e *TransientRemoteError) Unwrap() error { return e.Err }

// MalformedResponseError marks a classifier answer that did not parse into
// any accepted shape. It triggers the per-item fallback, never a crash.
type MalformedResponseError struct {
	Snippet string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed classifier response: %v (body: %.120s)", e.Err, e.Snippet)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ConfigurationError marks an invalid or incomplete configuration detected
// at construction time. Components fail fast instead of running degraded.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}
