package workspace

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
)

// ChartData is a renderer-agnostic chart payload: one label axis and one
// or more aligned value series.
type ChartData struct {
	Kind     string    `json:"kind"`
	Title    string    `json:"title,omitempty"`
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset is one value series keyed by its source column.
type Dataset struct {
	Label  string    `json:"label"`
	Values []float64 `json:"values"`
}

// ChartHint lets the caller pin any part of the chart; unset fields are
// chosen automatically.
type ChartHint struct {
	Kind         string   `json:"kind,omitempty"`
	LabelColumn  string   `json:"label_column,omitempty"`
	ValueColumns []string `json:"value_columns,omitempty"`
	Title        string   `json:"title,omitempty"`
}

// Chart kinds. Doughnut is never auto-selected but callers may hint it
// anywhere pie fits.
const (
	ChartBar      = "bar"
	ChartLine     = "line"
	ChartPie      = "pie"
	ChartDoughnut = "doughnut"
)

// Chartify reads a registered table and projects it into chart data.
func (w *Workspace) Chartify(ctx context.Context, table string, hint *ChartHint) (*ChartData, error) {
	w.mu.Lock()
	_, known := w.tables[table]
	w.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("table %q is not registered", table)
	}

	res := w.SQL(ctx, "SELECT * FROM "+quoteIdent(table))
	if !res.Success {
		return nil, fmt.Errorf("read %s: %s", table, res.Error)
	}
	return Chartify(res, hint)
}

// Chartify turns a query result into chart data. The label axis is the
// hinted column, or the first non-numeric column, or the first column when
// everything is numeric. Every remaining numeric column becomes a dataset.
// Kind selection: a period-shaped label axis draws a line, a single short
// non-negative series draws a pie, anything else a bar.
func Chartify(result *handler.QueryResult, hint *ChartHint) (*ChartData, error) {
	if result == nil || !result.Success {
		return nil, errors.New("cannot chart a failed result")
	}
	if len(result.Rows) == 0 {
		return nil, errors.New("no rows to chart")
	}
	if hint == nil {
		hint = &ChartHint{}
	}

	numeric := numericColumns(result)

	labelCol, err := pickLabelColumn(result, hint, numeric)
	if err != nil {
		return nil, err
	}
	valueCols, err := pickValueColumns(result, hint, numeric, labelCol)
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(result.Rows))
	for i, row := range result.Rows {
		labels[i] = formatLabel(row[labelCol])
	}

	datasets := make([]Dataset, len(valueCols))
	for i, col := range valueCols {
		values := make([]float64, len(result.Rows))
		for j, row := range result.Rows {
			v, _ := asFloat(row[col])
			values[j] = v
		}
		datasets[i] = Dataset{Label: col, Values: values}
	}

	kind := hint.Kind
	if kind == "" {
		kind = pickKind(labelCol, labels, datasets)
	}

	title := hint.Title
	if title == "" {
		title = fmt.Sprintf("%s by %s", strings.Join(valueCols, ", "), labelCol)
	}

	return &ChartData{Kind: kind, Title: title, Labels: labels, Datasets: datasets}, nil
}

func pickLabelColumn(result *handler.QueryResult, hint *ChartHint, numeric map[string]bool) (string, error) {
	if hint.LabelColumn != "" {
		if !hasColumn(result, hint.LabelColumn) {
			return "", fmt.Errorf("label column %q not in result", hint.LabelColumn)
		}
		return hint.LabelColumn, nil
	}
	for _, col := range result.Columns {
		if !numeric[col] {
			return col, nil
		}
	}
	// All-numeric result: the first column carries the axis.
	return result.Columns[0], nil
}

func pickValueColumns(result *handler.QueryResult, hint *ChartHint, numeric map[string]bool, labelCol string) ([]string, error) {
	if len(hint.ValueColumns) > 0 {
		for _, col := range hint.ValueColumns {
			if !hasColumn(result, col) {
				return nil, fmt.Errorf("value column %q not in result", col)
			}
		}
		return hint.ValueColumns, nil
	}

	var cols []string
	for _, col := range result.Columns {
		if col != labelCol && numeric[col] {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return nil, errors.New("no numeric columns to chart")
	}
	return cols, nil
}

func pickKind(labelCol string, labels []string, datasets []Dataset) string {
	if periodLike(labelCol, labels) {
		return ChartLine
	}
	if len(datasets) == 1 && len(labels) <= 8 && allNonNegative(datasets[0].Values) {
		return ChartPie
	}
	return ChartBar
}

// numericColumns reports which columns hold only numeric cells. Nulls do
// not count against a column; a column with no values at all is not
// numeric.
func numericColumns(result *handler.QueryResult) map[string]bool {
	out := make(map[string]bool, len(result.Columns))
	for _, col := range result.Columns {
		sawValue := false
		isNumeric := true
		for _, row := range result.Rows {
			v := row[col]
			if v == nil {
				continue
			}
			sawValue = true
			if _, ok := asFloat(v); !ok {
				isNumeric = false
				break
			}
		}
		out[col] = sawValue && isNumeric
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func hasColumn(result *handler.QueryResult, name string) bool {
	for _, col := range result.Columns {
		if col == name {
			return true
		}
	}
	return false
}

func allNonNegative(values []float64) bool {
	for _, v := range values {
		if v < 0 {
			return false
		}
	}
	return true
}

var (
	periodColumnNames = map[string]bool{
		"prd_de": true, "date": true, "year": true, "month": true,
		"period": true, "day": true, "week": true, "quarter": true,
		"ym": true, "yyyymm": true,
	}
	// Matches 2023, 202301, 2023-01, 2023/01/15 and the like.
	periodValuePattern = regexp.MustCompile(`^\d{4}([-/.]?\d{2}){0,2}$`)
)

// periodLike reports whether a label axis looks like a time series, by
// column name or by every label being a year or year-month shaped value.
func periodLike(name string, labels []string) bool {
	n := strings.ToLower(name)
	if periodColumnNames[n] || strings.Contains(n, "date") || strings.Contains(n, "time") || strings.Contains(n, "period") {
		return true
	}
	if len(labels) == 0 {
		return false
	}
	for _, l := range labels {
		if !periodValuePattern.MatchString(l) {
			return false
		}
	}
	return true
}

// formatLabel renders a cell for the label axis. Integer-valued floats
// print without a decimal point.
func formatLabel(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}
