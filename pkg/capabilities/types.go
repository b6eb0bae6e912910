// Package capabilities defines the public types for key-server UCAN capabilities.
package capabilities

// Capability ability constants
const (
	AbilityFetchKey = "seal/fetch_key"
	AbilityAll      = "seal/*"
)

// ResourcePrefix prefixes policy identifiers in capability resources.
const ResourcePrefix = "seal:policy/"

// Failure names returned by key servers.
const (
	FailureInvalidCertificate = "InvalidCertificate"
	FailureSessionExpired     = "SessionExpired"
	FailureInvalidRequest     = "InvalidRequest"
	FailureInvalidDelegation  = "InvalidDelegation"
	FailureNoAccess           = "NoAccess"
	FailureUnknownShare       = "UnknownShare"
	FailureInternal           = "InternalError"
)

// FetchKeyFailure is the failure result for seal/fetch_key
type FetchKeyFailure struct {
	name    string
	message string
}

func (f FetchKeyFailure) Name() string {
	return f.name
}

func (f FetchKeyFailure) Error() string {
	return f.name + ": " + f.message
}

// NewFetchKeyFailure creates a new FetchKeyFailure
func NewFetchKeyFailure(name, message string) FetchKeyFailure {
	return FetchKeyFailure{name: name, message: message}
}

// IsAccessDenial reports whether a failure means the predicate said no, as
// opposed to a malformed or expired request.
func IsAccessDenial(name string) bool {
	return name == FailureNoAccess
}
