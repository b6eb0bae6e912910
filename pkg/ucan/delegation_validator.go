// Package ucan issues and validates the UCAN delegations a session hands to
// key servers.
package ucan

import (
	"fmt"
	"time"

	"github.com/storacha/go-ucanto/core/delegation"

	"github.com/relves/proofvault/pkg/capabilities"
)

// DelegationError represents an error with delegation validation.
type DelegationError struct {
	Code    string
	Message string
}

func (e *DelegationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewDelegationError creates a new delegation error.
func NewDelegationError(code, message string) *DelegationError {
	return &DelegationError{Code: code, Message: message}
}

// Error codes for delegation validation
const (
	ErrCodeDelegationExpired           = "DELEGATION_EXPIRED"
	ErrCodeDelegationWrongAudience     = "DELEGATION_WRONG_AUDIENCE"
	ErrCodeDelegationWrongIssuer       = "DELEGATION_WRONG_ISSUER"
	ErrCodeDelegationMissingCapability = "DELEGATION_MISSING_CAPABILITY"
	ErrCodeDelegationWrongResource     = "DELEGATION_WRONG_RESOURCE"
	ErrCodeDelegationParseError        = "DELEGATION_PARSE_ERROR"
	ErrCodeDelegationNoExpiration      = "DELEGATION_NO_EXPIRATION"
)

// ParseDelegation parses a base64-encoded UCAN delegation.
func ParseDelegation(encoded string) (delegation.Delegation, error) {
	dlg, err := delegation.Parse(encoded)
	if err != nil {
		return nil, NewDelegationError(ErrCodeDelegationParseError,
			fmt.Sprintf("failed to parse delegation: %v", err))
	}
	return dlg, nil
}

// FormatDelegation encodes a delegation to base64 string.
func FormatDelegation(dlg delegation.Delegation) (string, error) {
	return delegation.Format(dlg)
}

// FetchKeyExpectations are the values a key server requires of a fetch-key
// delegation.
type FetchKeyExpectations struct {
	// SessionDID must be the delegation issuer.
	SessionDID string
	// ServiceDID must be the delegation audience.
	ServiceDID string
	// PolicyID must be the capability resource.
	PolicyID string
	// NotAfter caps the delegation expiration; zero means no cap.
	NotAfter time.Time
	Now      time.Time
}

// ValidateFetchKey checks that dlg is a session-issued seal/fetch_key
// delegation for the expected server and policy.
func ValidateFetchKey(dlg delegation.Delegation, want FetchKeyExpectations) error {
	if issuer := dlg.Issuer().DID().String(); issuer != want.SessionDID {
		return NewDelegationError(ErrCodeDelegationWrongIssuer,
			fmt.Sprintf("delegation issuer is %s, expected session DID %s", issuer, want.SessionDID))
	}

	if audience := dlg.Audience().DID().String(); audience != want.ServiceDID {
		return NewDelegationError(ErrCodeDelegationWrongAudience,
			fmt.Sprintf("delegation audience is %s, expected service DID %s", audience, want.ServiceDID))
	}

	exp := dlg.Expiration()
	if exp == nil {
		return NewDelegationError(ErrCodeDelegationNoExpiration, "session delegations must expire")
	}
	expTime := time.Unix(int64(*exp), 0)
	now := want.Now
	if now.IsZero() {
		now = time.Now()
	}
	if now.After(expTime) {
		return NewDelegationError(ErrCodeDelegationExpired,
			fmt.Sprintf("delegation expired at %s", expTime))
	}
	if !want.NotAfter.IsZero() && expTime.After(want.NotAfter.Add(time.Second)) {
		return NewDelegationError(ErrCodeDelegationExpired,
			fmt.Sprintf("delegation expires at %s, after the session ends at %s", expTime, want.NotAfter))
	}

	resource := PolicyResource(want.PolicyID)
	var sawAbility bool
	for _, cap := range dlg.Capabilities() {
		if !CapabilityAllows(cap.Can(), capabilities.AbilityFetchKey) {
			continue
		}
		sawAbility = true
		if cap.With() == resource {
			return nil
		}
	}
	if sawAbility {
		return NewDelegationError(ErrCodeDelegationWrongResource,
			fmt.Sprintf("no %s capability for %s", capabilities.AbilityFetchKey, resource))
	}
	return NewDelegationError(ErrCodeDelegationMissingCapability,
		fmt.Sprintf("delegation missing required capability: %s", capabilities.AbilityFetchKey))
}

// ExtractDelegationCapabilities extracts capabilities from a delegation for debugging.
func ExtractDelegationCapabilities(dlg delegation.Delegation) []CapabilityInfo {
	caps := dlg.Capabilities()
	result := make([]CapabilityInfo, len(caps))
	for i, cap := range caps {
		result[i] = CapabilityInfo{
			Can:  cap.Can(),
			With: cap.With(),
		}
	}
	return result
}

// DelegationInfo contains information about a delegation for logging/debugging.
type DelegationInfo struct {
	Issuer       string           `json:"issuer"`
	Audience     string           `json:"audience"`
	Capabilities []CapabilityInfo `json:"capabilities"`
	Expiration   *time.Time       `json:"expiration,omitempty"`
}

// GetDelegationInfo extracts information from a delegation for logging.
func GetDelegationInfo(dlg delegation.Delegation) DelegationInfo {
	info := DelegationInfo{
		Issuer:       dlg.Issuer().DID().String(),
		Audience:     dlg.Audience().DID().String(),
		Capabilities: ExtractDelegationCapabilities(dlg),
	}

	if exp := dlg.Expiration(); exp != nil {
		t := time.Unix(int64(*exp), 0)
		info.Expiration = &t
	}

	return info
}
