// Command pumpctl-history exports the controller's event history as JSON or CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"modbus-pump-control/internal/history"
)

func main() {
	dbPath := flag.String("db", "pumpctl.db", "path to the history database")
	format := flag.String("format", "json", "output format: json or csv")
	out := flag.String("out", "", "output file (default stdout)")
	last := flag.Int("n", 0, "export only the last n events (0 = all)")
	since := flag.Duration("since", 0, "export events newer than this age, e.g. 24h (overrides -n)")
	flag.Parse()

	if err := run(*dbPath, *format, *out, *last, *since); err != nil {
		log.Fatal(err)
	}
}

func run(dbPath, format, out string, last int, since time.Duration) error {
	if format != "json" && format != "csv" {
		return fmt.Errorf("unsupported format %q", format)
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("history database: %w", err)
	}
	store, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var recs []history.Record
	if since > 0 {
		recs, err = store.Since(ctx, time.Now().Add(-since))
	} else {
		recs, err = store.Recent(ctx, last)
	}
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}

	if format == "csv" {
		err = history.ExportCSV(w, recs)
	} else {
		err = history.ExportJSON(w, recs)
	}
	if err != nil {
		return err
	}
	if out != "" {
		log.Printf("wrote %d events to %s", len(recs), out)
	}
	return nil
}
