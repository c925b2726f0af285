package main

import (
	"encoding/json"
	"fmt"
	"io"
)

// printValue writes v as indented JSON, or as plain text for strings.
func printValue(w io.Writer, v any) error {
	if s, ok := v.(string); ok {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		_, err = fmt.Fprintf(w, "%v\n", v)
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
