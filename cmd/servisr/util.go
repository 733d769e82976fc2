package main

import (
	"encoding/json"
	"io"
	"os"
)

// printJSON renders command output for both humans and scripts.
func printJSON(v any) { writeJSON(os.Stdout, v) }

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
