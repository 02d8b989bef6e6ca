// Package session keeps the short-term memory of each conversation: the most
// recent turns, bounded and evicted oldest first.
package session

import "time"

type StageTiming struct {
	Name       string        `json:"name"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	DurationMs float64       `json:"duration_ms"`
}

// Turn records one question and what the pipeline did with it. Failed turns
// are kept too so follow-up questions can see what went wrong.
type Turn struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	Request        string        `json:"request"`
	CandidateQuery string        `json:"candidate_query,omitempty"`
	ExecutedQuery  string        `json:"executed_query,omitempty"`
	Accepted       bool          `json:"accepted"`
	RejectReason   string        `json:"reject_reason,omitempty"`
	Summary        string        `json:"summary,omitempty"`
	RowCount       int           `json:"row_count"`
	Failed         bool          `json:"failed"`
	FailedStage    string        `json:"failed_stage,omitempty"`
	FailureReason  string        `json:"failure_reason,omitempty"`
	Stages         []StageTiming `json:"stages,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
}

func (t Turn) clone() Turn {
	t.Stages = append([]StageTiming(nil), t.Stages...)
	return t
}
