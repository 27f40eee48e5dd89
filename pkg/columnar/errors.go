package columnar

import "fmt"

// ErrorClass classifies a columnar reader failure per §4.3/§7.
type ErrorClass string

const (
	ClassIoError                    ErrorClass = "IoError"
	ClassSchemaError                ErrorClass = "SchemaError"
	ClassCorruptionError            ErrorClass = "CorruptionError"
	ClassCompressionCorruptionError ErrorClass = "CompressionCorruptionError"
	ClassCredentialError            ErrorClass = "CredentialError"
)

// Error carries the source path alongside its classification, the shape
// required by §4.3 ("each carrying the source path").
type Error struct {
	Class ErrorClass
	Path  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Quarantinable reports whether this error class may be quarantined at
// the reader boundary under the QUARANTINE containment policy (§7).
func (e *Error) Quarantinable() bool {
	return e.Class == ClassCorruptionError || e.Class == ClassCompressionCorruptionError
}

func newErr(class ErrorClass, path string, err error) *Error {
	return &Error{Class: class, Path: path, Err: err}
}
