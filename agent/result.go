package agent

// QualityMetrics mirrors the quality gate's output shape (§4.5), duplicated
// here (rather than importing the quality package) so agent, the most
// widely imported package in the module, has no dependency on it.
type QualityMetrics struct {
	Status     string
	Score      float64
	Reasons    []string
	NextChecks []string
}

// TaskResult is the terminal, user-visible outcome of a Run (§7). Every
// completion path - success, partial, failure, loop_detected, stopped -
// produces exactly one TaskResult.
type TaskResult struct {
	// Success reports whether the run concluded with a usable answer.
	Success bool
	// Summary is always human-readable and references concrete files or
	// commands when available.
	Summary string
	// Error carries a stable reason code when Success is false
	// (e.g. "loop_detected", "max_iterations", "token_budget_hard").
	Error string
	// Stopped distinguishes a user-requested stop from other failures; when
	// true, Success is always false and Error is empty (stopping is not an
	// error, §7).
	Stopped bool

	FilesRead     []string
	FilesModified []string
	FilesCreated  []string

	// Iterations is the number of completed iterations. For stopped results
	// it is one less than the iteration that was interrupted (§3).
	Iterations int
	TokensUsed int
	Tier       Tier

	QualityMetrics *QualityMetrics
}
