package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRequestID is the standardized key for per-request correlation identifiers.
	FieldRequestID = "request_id"
	// FieldBatchID identifies the batch a request belongs to.
	FieldBatchID = "batch_id"
	// FieldBatchIndex is the caller-visible index of a request inside its batch.
	FieldBatchIndex = "batch_index"
	// FieldSource names the lookup source being attempted.
	FieldSource = "source"
	// FieldDomain names the rate limited domain.
	FieldDomain = "domain"
	// FieldCacheKey is the normalized request hash.
	FieldCacheKey = "cache_key"
	// FieldEventType classifies a log line for filtering (cache_rebuilt, source_failed, ...).
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldErrorKind carries services.Kind for the logged error.
	FieldErrorKind = "error_kind"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldDecisionType names the policy decision being logged (admission, reorder, ...).
	FieldDecisionType   = "decision_type"
	FieldDecisionResult = "decision_result"
	FieldDecisionReason = "decision_reason"
)
