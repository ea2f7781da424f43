package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"callsync/internal/calls"
	"callsync/internal/phone"
	"callsync/internal/reporting"

	"github.com/fatih/color"
)

// statusColor follows the dashboard: completed green, failed outcomes red, in-flight yellow.
func statusColor(s calls.Status) *color.Color {
	switch s {
	case calls.StatusCompleted:
		return color.New(color.FgGreen)
	case calls.StatusFailed, calls.StatusBusy, calls.StatusNoAnswer:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func formatStatus(s calls.Status) string {
	return statusColor(s).Sprint(string(s))
}

func displayNumber(rec calls.CallRecord) string {
	if rec.DisplayNumber != "" {
		return rec.DisplayNumber
	}
	return phone.Display(rec.DialedNumber)
}

func formatDuration(d *int) string {
	if d == nil {
		return "-"
	}
	return strconv.Itoa(*d) + "s"
}

func renderCalls(w io.Writer, recs []calls.CallRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CALL SID\tNUMBER\tSTATUS\tDURATION\tRECORDING\tCREATED")
	for _, r := range recs {
		recording := "-"
		if r.RecordingReference != nil {
			recording = *r.RecordingReference
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ProviderCallToken,
			displayNumber(r),
			formatStatus(r.Status),
			formatDuration(r.DurationSeconds),
			recording,
			r.CreatedAt.Local().Format(time.DateTime),
		)
	}
	tw.Flush()
}

func renderUpdate(w io.Writer, rec calls.CallRecord, at time.Time) {
	fmt.Fprintf(w, "%s  %s  %s  %s  v%d\n",
		at.Local().Format(time.TimeOnly),
		rec.ProviderCallToken,
		displayNumber(rec),
		formatStatus(rec.Status),
		rec.Version,
	)
}

func renderSummary(w io.Writer, s reporting.CallsSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total calls:\t%d\n", s.TotalCalls)
	fmt.Fprintf(tw, "Active:\t%d\n", s.ActiveCalls)
	fmt.Fprintf(tw, "Terminal:\t%d\n", s.TerminalCalls)
	for _, st := range calls.AllStatuses {
		if n := s.ByStatus[string(st)]; n > 0 {
			fmt.Fprintf(tw, "  %s\t%d\n", formatStatus(st), n)
		}
	}
	fmt.Fprintf(tw, "Total duration:\t%ds\n", s.TotalDurationSeconds)
	fmt.Fprintf(tw, "Average duration:\t%ds\n", s.AverageDurationSeconds)
	fmt.Fprintf(tw, "Recorded:\t%d\n", s.RecordedCalls)
	fmt.Fprintf(tw, "Connection rate:\t%.1f%%\n", s.ConnectionRate*100)
	tw.Flush()
}
