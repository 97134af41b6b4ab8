package zbd

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutputFormat names one of the run-summary rendering modes.
type OutputFormat string

const (
	TableFormat OutputFormat = "table"
	JSONFormat  OutputFormat = "json"
	FlatFormat  OutputFormat = "flat"
)

// ValidateFormat checks a user-supplied format string.
func ValidateFormat(format string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(format))
	switch f {
	case TableFormat, JSONFormat, FlatFormat:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format %q, supported formats are: table, json, flat", format)
	}
}

// FormatResult renders a run's final aggregated statistics in one of the
// three supported formats.
func FormatResult(final AggregatedStats, format OutputFormat) (string, error) {
	dirs := sortedDirections(final.TotalCounts)

	switch format {
	case TableFormat:
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("\n%-10s %12s %12s %10s %10s\n", "direction", "count", "IOPS", "eof", "resets"))
		for _, d := range dirs {
			sb.WriteString(fmt.Sprintf("%-10s %12d %12.2f %10d %10d\n",
				d, final.TotalCounts[d], final.IOPS[d], final.EOFCounts[d], final.ResetCounts[d]))
		}
		sb.WriteString(fmt.Sprintf("duration_seconds %.2f\n", final.TestDuration))
		return sb.String(), nil

	case JSONFormat:
		type dirResult struct {
			Count int64   `json:"count"`
			IOPS  float64 `json:"iops"`
			EOF   int64   `json:"eof"`
			Reset int64   `json:"resets"`
		}
		out := struct {
			Directions map[string]dirResult `json:"directions"`
			Duration   float64              `json:"duration_seconds"`
		}{
			Directions: make(map[string]dirResult, len(dirs)),
			Duration:   final.TestDuration,
		}
		for _, d := range dirs {
			out.Directions[d.String()] = dirResult{
				Count: final.TotalCounts[d],
				IOPS:  final.IOPS[d],
				EOF:   final.EOFCounts[d],
				Reset: final.ResetCounts[d],
			}
		}
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal json result: %w", err)
		}
		return string(b), nil

	case FlatFormat:
		var sb strings.Builder
		for _, d := range dirs {
			sb.WriteString(fmt.Sprintf("%s %d %.2f %d %d\n",
				d, final.TotalCounts[d], final.IOPS[d], final.EOFCounts[d], final.ResetCounts[d]))
		}
		return sb.String(), nil

	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
