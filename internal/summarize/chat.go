package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/querygate/querygate/internal/llm"
	"github.com/querygate/querygate/internal/query"
)

const (
	maxSummaryTokens = 512
	sampleRows       = 5
	numericColumns   = 3
)

type ChatSummarizer struct {
	client llm.Completer
}

func NewChatSummarizer(client llm.Completer) (*ChatSummarizer, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	return &ChatSummarizer{client: client}, nil
}

// Summarize answers empty results locally. Any service failure is reported as
// ErrUnavailable wrapping the cause.
func (s *ChatSummarizer) Summarize(ctx context.Context, req Request) (Summary, error) {
	if len(req.Result.Rows) == 0 {
		return Summary{Text: NoResultsText}, nil
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a data analyst assistant. Analyze query results and provide clear, concise insights."},
		{Role: llm.RoleUser, Content: buildPrompt(req)},
	}
	text, err := s.client.Complete(ctx, messages, maxSummaryTokens)
	if err != nil {
		if ctx.Err() != nil {
			return Summary{}, err
		}
		return Summary{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Summary{}, fmt.Errorf("%w: empty summary", ErrUnavailable)
	}

	return Summary{Text: text, Chart: ChartFor(req.Result, req.Chart)}, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User's question: %s\n\n", strings.TrimSpace(req.Question))
	if req.SQL != "" {
		fmt.Fprintf(&b, "SQL query: %s\n\n", req.SQL)
	}
	b.WriteString("Results summary:\n")
	b.WriteString(describeResult(req.Result))
	fmt.Fprintf(&b, "\nSample data (first %d rows):\n", sampleRows)
	b.WriteString(formatSample(req.Result))
	b.WriteString("\nProvide an interpretation that answers the question directly, highlights key findings " +
		"and mentions notable patterns or outliers. Keep it to 2-4 sentences.")
	return b.String()
}

func describeResult(result query.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total rows: %d", len(result.Rows))
	if result.Truncated {
		b.WriteString(" (truncated)")
	}
	fmt.Fprintf(&b, "\nColumns: %s\n", strings.Join(result.Columns, ", "))

	described := 0
	for i, column := range result.Columns {
		if described == numericColumns {
			break
		}
		if classifyColumn(result.Rows, i) != kindNumeric {
			continue
		}
		minimum, maximum, mean, ok := columnStats(result.Rows, i)
		if !ok {
			continue
		}
		if described == 0 {
			b.WriteString("Numerical summary:\n")
		}
		fmt.Fprintf(&b, "  %s: min=%.2f, max=%.2f, avg=%.2f\n", column, minimum, maximum, mean)
		described++
	}
	return b.String()
}

func columnStats(rows [][]any, index int) (float64, float64, float64, bool) {
	var minimum, maximum, sum float64
	count := 0
	for _, row := range rows {
		if index >= len(row) {
			continue
		}
		value, ok := toFloat(row[index])
		if !ok {
			continue
		}
		if count == 0 || value < minimum {
			minimum = value
		}
		if count == 0 || value > maximum {
			maximum = value
		}
		sum += value
		count++
	}
	if count == 0 {
		return 0, 0, 0, false
	}
	return minimum, maximum, sum / float64(count), true
}

func formatSample(result query.Result) string {
	var b strings.Builder
	b.WriteString(strings.Join(result.Columns, " | "))
	b.WriteString("\n")
	for i, row := range result.Rows {
		if i == sampleRows {
			break
		}
		cells := make([]string, len(row))
		for j, value := range row {
			if value == nil {
				cells[j] = "NULL"
				continue
			}
			cells[j] = fmt.Sprint(value)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	return b.String()
}
