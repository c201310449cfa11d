// Package report renders gap rows to CSV for operator download, grounded
// on original_source's gapReporter/getGapReport pair (§4.5.1).
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

// WriteCSV renders rows as "short_name,version,start_ts,end_ts,reason".
func WriteCSV(shortName, version string, rows []gap.GapRow) ([]byte, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"short_name", "version", "start_ts", "end_ts", "reason"}); err != nil {
		return nil, fmt.Errorf("report: write header: %w", err)
	}

	for _, row := range rows {
		reasonText := ""
		if row.Reason != nil {
			reasonText = *row.Reason
		}

		record := []string{
			shortName,
			version,
			row.Start.Format(time.RFC3339),
			row.End.Format(time.RFC3339),
			reasonText,
		}

		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("report: write row: %w", err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("report: flush: %w", err)
	}

	return buf.Bytes(), nil
}
