package domain

// NoOutputPlaceholder is shown in the output panel when a run produced nothing.
const NoOutputPlaceholder = "(no output)"

// ExecutionResult is the outcome of one code run.
type ExecutionResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error"`
}

// Empty returns true if no channel has content.
func (r ExecutionResult) Empty() bool {
	return r.Stdout == "" && r.Stderr == "" && r.Error == ""
}

// ExecutionDisplay is what the output panel renders for a result.
type ExecutionDisplay struct {
	Output    string `json:"output"`
	Error     string `json:"error"`
	ShowError bool   `json:"show_error"`
	Running   bool   `json:"running"`
	// Hint is true before the first run completes and nothing is running.
	Hint bool `json:"hint"`
}
