package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jbweber/crucible/api/v1alpha1"
)

// TableFormatter formats machine status as an aligned table.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool

	// now is overridden in tests.
	now func() time.Time
}

// FormatStatus formats a single machine as a table row.
func (f *TableFormatter) FormatStatus(st v1alpha1.MachineStatus) (string, error) {
	return f.FormatStatusList([]v1alpha1.MachineStatus{st})
}

// FormatStatusList formats machines as a table.
func (f *TableFormatter) FormatStatusList(sts []v1alpha1.MachineStatus) (string, error) {
	if len(sts) == 0 {
		return "No machines found\n", nil
	}
	now := time.Now
	if f.now != nil {
		now = f.now
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "ENVIRONMENT\tMACHINE\tSTATE\tDOMAIN\tADDRESS\tAGE")
	}

	for _, st := range sts {
		age := "-"
		if !st.Created.IsZero() {
			age = formatAge(now().Sub(st.Created.Time))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			dash(st.Environment), st.Machine, dash(st.State), dash(st.Domain), dash(st.Address), age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	// Less than ~2 months (8 weeks)
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	if years := days / 365; years > 0 {
		return fmt.Sprintf("%dy", years)
	}
	return fmt.Sprintf("%dd", days)
}
