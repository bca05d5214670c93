package domain

// EvaluateStrategyJob is the payload enqueued onto strategy-queue by the
// Scheduler and consumed by the Evaluator (spec.md §4.2, §4.3, §6).
type EvaluateStrategyJob struct {
	StrategyID int64 `json:"strategyId"`
}

// ExecuteIntentRequest is the payload accepted both by the Executor's
// internal HTTP endpoint and by transaction-queue jobs (spec.md §4.3 step 6,
// §4.4, §6).
type ExecuteIntentRequest struct {
	UserID         int64  `json:"userId"`
	Intent         Intent `json:"intent"`
	SessionKeyID   int64  `json:"sessionKeyId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ExecuteIntentResponse is returned by the internal endpoint.
type ExecuteIntentResponse struct {
	Log TransactionLog `json:"log"`
}
