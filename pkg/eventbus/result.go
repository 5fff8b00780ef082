package eventbus

// Result is the outcome of one consumption attempt. The Retryable flag on a
// failure alone decides whether the event becomes eligible for re-claim or is
// terminally failed.
type Result struct {
	// Success indicates the event was processed.
	Success bool

	// Data is the processing result, hashed for dedup and audit.
	Data any

	// Retryable classifies a failure. Ignored when Success is true.
	Retryable bool

	// ErrorMessage describes a failure.
	ErrorMessage string
}

// SuccessResult builds a successful result carrying the processing output.
func SuccessResult(data any) Result {
	return Result{Success: true, Data: data}
}

// FailureResult builds a failed result with the given retryability.
func FailureResult(message string, retryable bool) Result {
	return Result{Success: false, Retryable: retryable, ErrorMessage: message}
}
