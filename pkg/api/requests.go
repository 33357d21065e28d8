package api

// SubmitQueryRequest is the submit_query input. DeadlineMS is an optional
// per-request budget in milliseconds, measured from admission.
type SubmitQueryRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	SubjectID  string `json:"subject_id" binding:"required"`
	Question   string `json:"question"`
	DeadlineMS int64  `json:"deadline_ms"`
}

// InvalidateCacheRequest names the key pattern to drop.
type InvalidateCacheRequest struct {
	Pattern string `json:"pattern" binding:"required"`
}

// InstallVKPRequest carries one serialized knowledge package. Package is
// the raw document bytes (base64 in JSON).
type InstallVKPRequest struct {
	Subject string `json:"subject" binding:"required"`
	Grade   string `json:"grade" binding:"required"`
	Package []byte `json:"package" binding:"required"`
}

// RollbackVKPRequest names the (subject, grade) pair to roll back.
type RollbackVKPRequest struct {
	Subject string `json:"subject" binding:"required"`
	Grade   string `json:"grade" binding:"required"`
}
