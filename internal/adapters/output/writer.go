// Package output provides adapters for writing application output.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/henix-dev/henix/internal/domain"
)

// Writer renders the deployment report to the configured output destination.
// By default, it writes to stdout.
type Writer struct {
	out io.Writer
}

// NewWriter creates a new Writer writing to out; nil selects stdout.
func NewWriter(out io.Writer) *Writer {
	if out == nil {
		out = os.Stdout
	}
	return &Writer{out: out}
}

// WriteReport writes one line per node plus a trailing summary. Failed
// nodes include the failure kind and, when the attempt got as far as the
// remote build, the exit code; the slot path is printed so operators can
// inspect the artifact left on the host.
func (w *Writer) WriteReport(report *domain.Report) error {
	if _, err := fmt.Fprintf(w.out, "configuration %s\n", report.Identifier); err != nil {
		return err
	}

	succeeded := 0
	for i := range report.Attempts {
		a := &report.Attempts[i]
		if a.Succeeded() {
			succeeded++
			detail := "activated"
			if a.TransferSkipped {
				detail = "activated (slot already present, transfer skipped)"
			}
			if _, err := fmt.Fprintf(w.out, "  %s: %s\n", a.Node.Name, detail); err != nil {
				return err
			}
			continue
		}
		line := fmt.Sprintf("  %s: failed (%s)", a.Node.Name, a.Failure)
		if a.Build != nil && a.Build.ExitCode != 0 {
			line += fmt.Sprintf(", exit %d, inspect %s", a.Build.ExitCode, a.Slot)
		}
		if _, err := fmt.Fprintln(w.out, line); err != nil {
			return err
		}
		if a.Err != nil {
			if _, err := fmt.Fprintf(w.out, "    %v\n", a.Err); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(w.out, "%d/%d nodes succeeded\n", succeeded, len(report.Attempts))
	return err
}
