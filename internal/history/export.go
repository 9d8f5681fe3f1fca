package history

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportJSON writes recs as an indented JSON array.
func ExportJSON(w io.Writer, recs []Record) error {
	if recs == nil {
		recs = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"id", "timestamp", "loop_state", "action", "mode", "reading", "level_m", "tank", "command",
	"written", "pump", "consecutive_errors", "connected", "next_state", "error_kind", "error",
}

// ExportCSV writes recs as CSV with a header row.
func ExportCSV(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range recs {
		rec := []string{
			strconv.FormatInt(r.ID, 10),
			r.Time.UTC().Format(time.RFC3339Nano),
			string(r.State),
			string(r.Action),
			string(r.Mode),
			r.Reading,
			strconv.FormatFloat(r.Level, 'f', 3, 64),
			string(r.Tank),
			string(r.Command),
			strconv.FormatBool(r.Written),
			string(r.Pump),
			strconv.Itoa(r.Health.ConsecutiveErrors),
			strconv.FormatBool(r.Health.Connected),
			string(r.Next),
			r.ErrKind,
			r.Err,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
