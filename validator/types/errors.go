package types

// ErrorCode classifies failures persisted on runs, submissions and
// tournaments. Each code carries a fixed propagation policy; see the
// orchestrator for how they are applied.
type ErrorCode string

// Classified error codes.
const (
	ErrCodeNone                  ErrorCode = ""
	ErrCodeSubmissionBuildFailed ErrorCode = "submission_build_failed"
	ErrCodeSubmissionScanReject  ErrorCode = "submission_scan_rejected"
	ErrCodeSandboxLaunchFailed   ErrorCode = "sandbox_launch_failed"
	ErrCodeSandboxTimeout        ErrorCode = "sandbox_timeout"
	ErrCodeSandboxNonZeroExit    ErrorCode = "sandbox_nonzero_exit"
	ErrCodeOutputSchemaInvalid   ErrorCode = "output_schema_invalid"
	ErrCodeStoreFailed           ErrorCode = "store_persistence_failed"
	ErrCodeOrchestratorTimeout   ErrorCode = "orchestrator_timeout"
	ErrCodeConfigurationInvalid  ErrorCode = "configuration_invalid"
)
