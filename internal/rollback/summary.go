package rollback

// Residual is a resource rollback could not restore. It needs manual cleanup
// and is never retried automatically.
type Residual struct {
	Identity string `json:"identity"`
	Error    string `json:"error"`
	Err      error  `json:"-"`
}

// Summary is the aggregate outcome of RollbackAll.
type Summary struct {
	RunID     string     `json:"run_id"`
	Restored  []string   `json:"restored"`
	Residuals []Residual `json:"residuals,omitempty"`
}

// Complete reports whether every resource was restored.
func (s Summary) Complete() bool {
	return len(s.Residuals) == 0
}
