package model

// Version constants for records and contracts.
const (
	// LogVersion is the transition log entry schema version.
	LogVersion = "1"

	// ContractVersion is the run artifact contract version the kernel accepts
	// by default.
	ContractVersion = "0.1.0"

	// KernelVersion is the claimgov kernel version.
	KernelVersion = "0.2.0"
)
