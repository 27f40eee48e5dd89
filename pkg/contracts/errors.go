package contracts

import "fmt"

// Code enumerates the error taxonomy. Names are semantic rather than
// transport status codes, per the error handling design.
type Code string

const (
	CodeConfigError                  Code = "ConfigError"
	CodeCredentialError               Code = "CredentialError"
	CodeIoError                       Code = "IoError"
	CodeSchemaError                   Code = "SchemaError"
	CodeCorruptionError               Code = "CorruptionError"
	CodeCompressionCorruptionError    Code = "CompressionCorruptionError"
	CodeManifestInvalid               Code = "ManifestInvalid"
	CodeManifestParseError            Code = "ManifestParseError"
	CodeManifestLoadError             Code = "ManifestLoadError"
	CodeMultiManifestInconsistent     Code = "MultiManifestInconsistent"
	CodeSchemaUnsupported             Code = "SchemaUnsupported"
	CodeRowCountMismatch              Code = "RowCountMismatch"
	CodeOrderingColumnsInvalid        Code = "OrderingColumnsInvalid"
	CodeOrderingViolationDuplicate    Code = "OrderingViolationDuplicate"
	CodeOrderingViolationOutOfOrder   Code = "OrderingViolationOutOfOrder"
	CodeLifecycleError                Code = "LifecycleError"
	CodeErrorLimitExceeded            Code = "ErrorLimitExceeded"
	CodeRestoreError                  Code = "RestoreError"
	CodeSerializationError            Code = "SerializationError"
	CodeArchiveError                  Code = "ArchiveError"
)

// Error is the structured, user-visible failure shape:
// {error_code, message, context}.
type Error struct {
	ErrorCode Code           `json:"error_code"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrorCode, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a classified error with optional context.
func New(code Code, message string, context map[string]any) *Error {
	return &Error{ErrorCode: code, Message: message, Context: context}
}

// Wrap classifies an underlying error under code, preserving it for
// errors.Is/errors.As unwrapping.
func Wrap(code Code, message string, cause error, context map[string]any) *Error {
	return &Error{ErrorCode: code, Message: message, Context: context, cause: cause}
}

// Is lets errors.Is match on error code equality against a sentinel built
// with New(code, "", nil).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.ErrorCode == t.ErrorCode
}

// Sentinel returns a comparable sentinel usable with errors.Is(err, Sentinel(code)).
func Sentinel(code Code) error { return &Error{ErrorCode: code} }
