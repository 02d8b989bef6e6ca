// Package summarize turns a result set into a short natural-language answer
// and, when the shape allows it, a chart suggestion.
package summarize

import (
	"context"
	"errors"

	"github.com/querygate/querygate/internal/query"
)

// NoResultsText is returned for empty result sets without calling the service.
const NoResultsText = "No results found for your query."

// ErrUnavailable wraps any failure to obtain a summary from the service.
var ErrUnavailable = errors.New("summarization service unavailable")

type Request struct {
	Question string
	SQL      string
	Result   query.Result
	Chart    ChartType
}

type Summary struct {
	Text  string `json:"text"`
	Chart *Chart `json:"chart,omitempty"`
}

type Summarizer interface {
	Summarize(ctx context.Context, req Request) (Summary, error)
}
