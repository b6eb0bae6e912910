// pkg/types/contract.go
package types

// Entry functions and types of the truth_nft ledger module.
const (
	ContractModule      = "truth_nft"
	ContractMint        = "mint"
	ContractGrantAccess = "grant_access"
	ContractRevoke      = "revoke_access"
	ContractSealApprove = "seal_approve"
	ContractProofType   = "Proof"
)

// Target returns the fully qualified move-call target for fn.
func Target(packageID, fn string) string {
	return packageID + "::" + ContractModule + "::" + fn
}

// ProofType returns the fully qualified type of Proof objects.
func ProofType(packageID string) string {
	return packageID + "::" + ContractModule + "::" + ContractProofType
}
