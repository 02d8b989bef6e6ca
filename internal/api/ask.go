package api

import (
	"net/http"

	"github.com/querygate/querygate/internal/pipeline"
	"github.com/querygate/querygate/internal/safety"
	"github.com/querygate/querygate/internal/session"
	"github.com/querygate/querygate/internal/summarize"
)

// statusClientClosedRequest is written when the caller went away mid-request.
const statusClientClosedRequest = 499

type askRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
	Chart     string `json:"chart"`
}

type askResponse struct {
	RequestID     string                `json:"request_id"`
	SessionID     string                `json:"session_id"`
	SQL           string                `json:"sql"`
	PatternReused bool                  `json:"pattern_reused"`
	Columns       []string              `json:"columns"`
	Rows          [][]any               `json:"rows"`
	RowCount      int                   `json:"row_count"`
	Truncated     bool                  `json:"truncated"`
	Summary       string                `json:"summary"`
	Chart         *summarize.Chart      `json:"chart,omitempty"`
	Stages        []session.StageTiming `json:"stages"`
	DurationMs    float64               `json:"duration_ms"`
}

func (h *handlers) handleAsk(w http.ResponseWriter, r *http.Request) {
	if h.deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}

	var request askRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, h.details(err))
		return
	}
	chart, err := summarize.ParseChartType(request.Chart)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CHART", err.Error(), false, nil)
		return
	}

	outcome := h.deps.Pipeline.Run(r.Context(), pipeline.Request{
		SessionID: request.SessionID,
		Text:      request.Question,
		Chart:     chart,
	})
	if outcome.Failure != nil {
		h.writeFailure(w, r, outcome)
		return
	}

	response := askResponse{
		RequestID:     outcome.RequestID,
		SessionID:     outcome.SessionID,
		PatternReused: outcome.PatternReused,
		Columns:       []string{},
		Rows:          [][]any{},
		Stages:        outcome.Stages,
		DurationMs:    float64(outcome.Duration.Microseconds()) / 1000,
	}
	if outcome.Verdict != nil {
		response.SQL = outcome.Verdict.Query.SQL()
	}
	if result := outcome.Result; result != nil {
		if result.Columns != nil {
			response.Columns = result.Columns
		}
		if result.Rows != nil {
			response.Rows = result.Rows
		}
		response.RowCount = result.RowCount()
		response.Truncated = result.Truncated
	}
	if outcome.Summary != nil {
		response.Summary = outcome.Summary.Text
		response.Chart = outcome.Summary.Chart
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *handlers) writeFailure(w http.ResponseWriter, r *http.Request, outcome pipeline.Outcome) {
	failure := outcome.Failure
	status, code := failureStatus(failure.Kind)

	extra := map[string]any{
		"request_id": outcome.RequestID,
		"session_id": outcome.SessionID,
		"stage":      string(failure.Stage),
		"kind":       string(failure.Kind),
	}
	if verdict := outcome.Verdict; verdict != nil && !verdict.Accepted {
		extra["reason"] = string(verdict.Reason)
		if verdict.OffendingToken != "" {
			extra["offending_token"] = verdict.OffendingToken
		}
	}
	if h.cfg.API.ExposeErrorDetails {
		if outcome.CandidateQuery != "" {
			extra["candidate_query"] = outcome.CandidateQuery
		}
		if failure.Err != nil {
			extra["details"] = failure.Err.Error()
		}
	}
	writeError(r.Context(), w, status, code, failure.Reason, failure.Retryable(), extra)
}

func failureStatus(kind pipeline.FailureKind) (int, string) {
	switch kind {
	case pipeline.KindInvalidRequest:
		return http.StatusBadRequest, "INVALID_REQUEST"
	case pipeline.KindValidationRejection:
		return http.StatusUnprocessableEntity, "QUERY_REJECTED"
	case pipeline.KindTranslationFailure:
		return http.StatusBadGateway, "TRANSLATION_FAILED"
	case pipeline.KindInterpretationFailure:
		return http.StatusBadGateway, "INTERPRETATION_FAILED"
	case pipeline.KindExecutionFailure:
		return http.StatusBadRequest, "QUERY_EXECUTION_FAILED"
	case pipeline.KindDeadlineExceeded:
		return http.StatusGatewayTimeout, "DEADLINE_EXCEEDED"
	case pipeline.KindCanceled:
		return statusClientClosedRequest, "REQUEST_CANCELED"
	default:
		return http.StatusInternalServerError, "PIPELINE_ERROR"
	}
}

type validateRequest struct {
	SQL string `json:"sql"`
}

type validateResponse struct {
	Accepted       bool     `json:"accepted"`
	SQL            string   `json:"sql,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	OffendingToken string   `json:"offending_token,omitempty"`
	Tables         []string `json:"tables"`
}

// handleValidate runs only the safety gate. Nothing is executed.
func (h *handlers) handleValidate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Validator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "VALIDATOR_NOT_CONFIGURED", "safety validator is not configured", false, nil)
		return
	}
	var request validateRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, h.details(err))
		return
	}

	// A missing schema is not an error here: the validator rejects table
	// references against a nil descriptor with ReasonSchemaUnavailable.
	var tables safety.TableSet
	if descriptor, err := h.currentSchema(r); err == nil {
		tables = descriptor
	}
	verdict := h.deps.Validator.Validate(request.SQL, tables)

	response := validateResponse{
		Accepted:       verdict.Accepted,
		SQL:            verdict.Query.SQL(),
		Reason:         string(verdict.Reason),
		OffendingToken: verdict.OffendingToken,
		Tables:         verdict.Tables,
	}
	if response.Tables == nil {
		response.Tables = []string{}
	}
	writeJSON(w, http.StatusOK, response)
}
