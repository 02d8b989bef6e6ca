package summarize

import (
	"fmt"
	"time"

	"github.com/querygate/querygate/internal/query"
)

const maxChartRows = 100

type ChartType string

const (
	ChartBar     ChartType = "bar"
	ChartLine    ChartType = "line"
	ChartPie     ChartType = "pie"
	ChartScatter ChartType = "scatter"
	// ChartAuto lets SuggestChart decide.
	ChartAuto ChartType = "auto"
)

// ParseChartType accepts "", auto and the four chart kinds.
func ParseChartType(raw string) (ChartType, error) {
	switch kind := ChartType(raw); kind {
	case "", ChartAuto, ChartBar, ChartLine, ChartPie, ChartScatter:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown chart type %q", raw)
	}
}

// Chart describes a plot of one column against another; rendering is left to
// the client.
type Chart struct {
	Type  ChartType `json:"type"`
	X     string    `json:"x"`
	Y     string    `json:"y"`
	Title string    `json:"title"`
}

type columnKind int

const (
	kindUnknown columnKind = iota
	kindNumeric
	kindCategorical
	kindTemporal
)

// SuggestChart picks a chart for results with at least two columns and at
// most 100 rows. Numeric against categorical is a bar chart for small results
// and a line chart otherwise; temporal against numeric is a line chart; two
// numeric columns are a scatter plot.
func SuggestChart(result query.Result) *Chart {
	if !chartable(result) {
		return nil
	}

	kinds := make([]columnKind, len(result.Columns))
	var numeric, categorical, temporal int
	for i := range result.Columns {
		kinds[i] = classifyColumn(result.Rows, i)
		switch kinds[i] {
		case kindNumeric:
			numeric++
		case kindCategorical:
			categorical++
		case kindTemporal:
			temporal++
		}
	}

	x, y := result.Columns[0], result.Columns[1]
	switch {
	case temporal >= 1 && numeric >= 1:
		x, y = result.Columns[firstOf(kinds, kindTemporal)], result.Columns[firstOf(kinds, kindNumeric)]
		return newChart(ChartLine, x, y)
	case categorical >= 1 && numeric >= 1:
		x, y = result.Columns[firstOf(kinds, kindCategorical)], result.Columns[firstOf(kinds, kindNumeric)]
		if len(result.Rows) <= 20 {
			return newChart(ChartBar, x, y)
		}
		return newChart(ChartLine, x, y)
	case numeric >= 2:
		return newChart(ChartScatter, x, y)
	default:
		return newChart(ChartBar, x, y)
	}
}

// ChartFor returns no chart for an empty preference, the suggested chart
// for ChartAuto, and otherwise the requested kind over the first two columns.
func ChartFor(result query.Result, preference ChartType) *Chart {
	switch preference {
	case "":
		return nil
	case ChartAuto:
		return SuggestChart(result)
	}
	if !chartable(result) {
		return nil
	}
	return newChart(preference, result.Columns[0], result.Columns[1])
}

func chartable(result query.Result) bool {
	return len(result.Rows) > 0 && len(result.Rows) <= maxChartRows && len(result.Columns) >= 2
}

func newChart(kind ChartType, x, y string) *Chart {
	var title string
	switch kind {
	case ChartPie:
		title = "Distribution"
	case ChartLine:
		title = fmt.Sprintf("%s over %s", y, x)
	case ChartScatter:
		title = fmt.Sprintf("%s vs %s", y, x)
	default:
		title = fmt.Sprintf("%s by %s", y, x)
	}
	return &Chart{Type: kind, X: x, Y: y, Title: title}
}

func firstOf(kinds []columnKind, want columnKind) int {
	for i, kind := range kinds {
		if kind == want {
			return i
		}
	}
	return 0
}

// classifyColumn looks at non-null values; a column mixing kinds is unknown.
func classifyColumn(rows [][]any, index int) columnKind {
	kind := kindUnknown
	for _, row := range rows {
		if index >= len(row) || row[index] == nil {
			continue
		}
		var current columnKind
		switch row[index].(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			current = kindNumeric
		case string:
			current = kindCategorical
		case time.Time:
			current = kindTemporal
		default:
			return kindUnknown
		}
		if kind != kindUnknown && kind != current {
			return kindUnknown
		}
		kind = current
	}
	return kind
}

func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int8:
		return float64(typed), true
	case int16:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint8:
		return float64(typed), true
	case uint16:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	default:
		return 0, false
	}
}
