package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"phototree/internal/library"
)

// report is the machine-readable summary printed after a sync
type report struct {
	Root       string              `json:"root" yaml:"root"`
	DurationMs int64               `json:"duration_ms" yaml:"duration_ms"`
	Result     *library.SyncResult `json:"result" yaml:"result"`
}

func writeReport(w io.Writer, format string, r report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		fmt.Fprintln(w, "\n=== Sync Complete ===")
		fmt.Fprintf(w, "Albums added: %d, updated: %d, removed: %d\n",
			len(r.Result.Albums.Added), len(r.Result.Albums.Updated), len(r.Result.Albums.Removed))
		fmt.Fprintf(w, "Images added: %d, updated: %d, removed: %d\n",
			len(r.Result.Images.Added), len(r.Result.Images.Updated), len(r.Result.Images.Removed))
		fmt.Fprintf(w, "Duration: %v\n", time.Duration(r.DurationMs)*time.Millisecond)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
