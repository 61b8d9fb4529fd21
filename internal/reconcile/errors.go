package reconcile

// Failure codes for permanent reconciliation failures.
const (
	FailureValidation   = "ValidationError"
	FailureQuota        = "QuotaError"
	FailureManaged      = "ManagedResourceError"
	FailureUnclassified = "UnclassifiedError"
)

// Failure is a permanent, non-retryable reconciliation failure. The
// caller must resubmit a corrected desired state (or raise a quota)
// before this rule can converge.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RetryMarker records a retryable failure point. The marker identifies
// which operation a subsequent invocation resumes from; the queue still
// holds the operation itself with its payload.
type RetryMarker struct {
	Marker      string `json:"marker"`
	Progress    int    `json:"progress"`
	CallbackSec int    `json:"callback_sec,omitempty"`
}
