package core

// Result is the outcome of every public coordinator operation
type Result struct {
	Success bool        `json:"success"`
	Error   ErrorKind   `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Ok(data interface{}) Result {
	return Result{Success: true, Data: data}
}

func Fail(kind ErrorKind) Result {
	return Result{Error: kind}
}

// Err returns nil for a successful result
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return r.Error
}

// Resolved returns a future that already holds r
func Resolved(r Result) <-chan Result {
	ch := make(chan Result, 1)
	ch <- r
	return ch
}
