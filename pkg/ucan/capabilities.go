// pkg/ucan/capabilities.go
package ucan

import (
	"fmt"
	"strings"

	"github.com/relves/proofvault/pkg/capabilities"
)

// CapabilityInfo represents a validated capability
type CapabilityInfo struct {
	With string
	Can  string
}

// CapabilityAllows checks if a held capability grants the required capability.
func CapabilityAllows(held, required string) bool {
	if held == required {
		return true
	}
	// seal/* allows seal/fetch_key
	if strings.HasSuffix(held, "/*") && strings.HasPrefix(required, strings.TrimSuffix(held, "*")) {
		return true
	}
	return false
}

// PolicyResource returns the capability resource for a policy id.
func PolicyResource(policyID string) string {
	return capabilities.ResourcePrefix + strings.ToLower(policyID)
}

// ParsePolicyResource extracts the policy id from a resource URI.
func ParsePolicyResource(resource string) (string, error) {
	if !strings.HasPrefix(resource, capabilities.ResourcePrefix) {
		return "", fmt.Errorf("invalid resource URI: %s", resource)
	}
	id := strings.TrimPrefix(resource, capabilities.ResourcePrefix)
	if id == "" {
		return "", fmt.Errorf("invalid resource URI: %s", resource)
	}
	return id, nil
}
