// pkg/types/errors.go
package types

import (
	"fmt"
	"sort"
	"strings"
)

// Code classifies an Error. Callers branch on the code, never on the message.
type Code string

// Error codes. The comment on each code states the retry policy.
const (
	// CodeValidation: malformed identifier or address. Fix input, never retry.
	CodeValidation Code = "VALIDATION"
	// CodeInvalidIdentifier: empty or placeholder blob/policy identifier.
	CodeInvalidIdentifier Code = "INVALID_IDENTIFIER"
	// CodeNetwork: transport failure, retried with fallback endpoints.
	CodeNetwork Code = "NETWORK"
	CodeUpload  Code = "UPLOAD_FAILED"
	CodeFetch   Code = "FETCH_FAILED"
	// CodeIndexingTimeout: write accepted but not yet visible; re-resolve later.
	CodeIndexingTimeout Code = "INDEXING_TIMEOUT"
	// CodeResolution: fatal error while resolving a pending write.
	CodeResolution Code = "RESOLUTION_FAILED"
	// CodeAuthorization: predicate rejected the session address.
	CodeAuthorization Code = "AUTHORIZATION_DENIED"
	// CodeSessionExpired: recreate the session.
	CodeSessionExpired  Code = "SESSION_EXPIRED"
	CodeSessionCreation Code = "SESSION_CREATION_FAILED"
	// CodeMalformedRecord: unexpected on-ledger encoding, degraded not fatal.
	CodeMalformedRecord Code = "MALFORMED_RECORD"
	CodeEncryption      Code = "ENCRYPTION_FAILED"
	CodeDecryption      Code = "DECRYPTION_FAILED"
	// CodeTransaction: the ledger rejected a submitted transaction.
	CodeTransaction Code = "TRANSACTION_FAILED"
)

// parents lists the broader codes a code also satisfies with errors.Is.
var parents = map[Code][]Code{
	CodeInvalidIdentifier: {CodeValidation},
	CodeUpload:            {CodeNetwork},
	CodeFetch:             {CodeNetwork},
}

// Error is the error type returned across the access-control protocol.
// Context holds the identifiers needed to diagnose a failure without
// re-deriving state (record id, address, blob id, endpoint).
type Error struct {
	Code    Code
	Op      string
	Message string
	Status  int
	Body    string
	Context map[string]string
	Err     error
}

// NewError creates an Error for op.
func NewError(code Code, op, message string, err error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// Errorf creates an Error with a formatted message.
func Errorf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// With attaches a context field and returns e.
func (e *Error) With(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Wrap sets the underlying cause and returns e.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d", e.Status)
		if e.Body != "" {
			fmt.Fprintf(&b, ": %s", e.Body)
		}
		b.WriteString(")")
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Context[k])
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel for e's code or one of its parents.
// Only sentinels (errors with no Op or Message) match by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Message != "" {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	for _, p := range parents[e.Code] {
		if p == t.Code {
			return true
		}
	}
	return false
}

// Retryable reports whether the protocol retries this error locally.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeNetwork, CodeUpload, CodeFetch, CodeIndexingTimeout:
		return true
	default:
		return false
	}
}

// Sentinels for errors.Is.
var (
	ErrValidation        = &Error{Code: CodeValidation}
	ErrInvalidIdentifier = &Error{Code: CodeInvalidIdentifier}
	ErrNetwork           = &Error{Code: CodeNetwork}
	ErrUpload            = &Error{Code: CodeUpload}
	ErrFetch             = &Error{Code: CodeFetch}
	ErrIndexingTimeout   = &Error{Code: CodeIndexingTimeout}
	ErrResolution        = &Error{Code: CodeResolution}
	ErrAuthorization     = &Error{Code: CodeAuthorization}
	ErrSessionExpired    = &Error{Code: CodeSessionExpired}
	ErrSessionCreation   = &Error{Code: CodeSessionCreation}
	ErrMalformedRecord   = &Error{Code: CodeMalformedRecord}
	ErrEncryption        = &Error{Code: CodeEncryption}
	ErrDecryption        = &Error{Code: CodeDecryption}
	ErrTransaction       = &Error{Code: CodeTransaction}
)
