package domain

// Outcome is the terminal result of one batch item.
type Outcome struct {
	OperationID string          `json:"operation_id"`
	Status      OperationStatus `json:"status"`
	Attempts    int             `json:"attempts"`
	Result      any             `json:"result,omitempty"`
	Err         error           `json:"-"`
}

// BatchResult aggregates per-item outcomes in input order.
type BatchResult struct {
	Outcomes       []Outcome `json:"outcomes"`
	SuccessCount   int       `json:"success_count"`
	FailureCount   int       `json:"failure_count"`
	CancelledCount int       `json:"cancelled_count"`
}

// Failed returns the outcomes that ended in failure.
func (r *BatchResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == OperationStatusFailed {
			out = append(out, o)
		}
	}
	return out
}
