package models

import "errors"

// Error classes shared by the pipeline stages. Stages wrap them with
// fmt.Errorf("%w: ...") and callers test with errors.Is.
var (
	// ErrTransient marks failures that may succeed when retried.
	ErrTransient = errors.New("transient failure")

	// ErrPermanent marks failures that will not succeed on retry.
	ErrPermanent = errors.New("permanent failure")

	// ErrDataIntegrity marks source rows that violate required invariants,
	// such as a NULL id or modification marker.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrConfiguration marks invalid or unreadable configuration. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrSchemaMismatch marks a source row missing a required field.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrExtraction marks source connection or query failures.
	ErrExtraction = errors.New("extraction failed")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrExtraction)
}
