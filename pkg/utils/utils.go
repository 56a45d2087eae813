// Package utils provides some small utility functions.
package utils

import (
	"fmt"
	"io"
	"time"
)

// Log will format and write the provided message to out if available.
func Log(out io.Writer, msg string) {
	if out != nil {
		fmt.Fprintf(out, "==> %s\n", msg)
	}
}

// Seconds formats a duration as seconds with one decimal for status lines.
func Seconds(d time.Duration) string {
	return fmt.Sprintf("%.1f sec", d.Seconds())
}
