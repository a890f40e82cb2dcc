// Package reporter renders the periodic human-facing status line. Pure
// presentation: nothing here feeds back into trading decisions.
package reporter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"maker-bot-go/internal/performance"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Reporter writes the status table to the given writer (stdout in live use).
type Reporter struct {
	out      io.Writer
	base     string
	decimals int
}

// New creates a Reporter quoting values in the given base currency.
func New(out io.Writer, base string) *Reporter {
	return &Reporter{out: out, base: base, decimals: 2}
}

// Print renders the uptime/balance/profit summary, bracketed by rules the
// same way the deployment it replaces did.
func (r *Reporter) Print(uptime time.Duration, startEquity, netEquity float64, profit performance.Profit) {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{
		"uptime", "balance (start)", "balance (net)", "profit (net)", "profit %", "profit/day %",
	})
	w.AppendRow(table.Row{
		FormatUptime(uptime),
		fmt.Sprintf("%.*f %s", r.decimals, startEquity, r.base),
		fmt.Sprintf("%.*f %s", r.decimals, netEquity, r.base),
		r.signed(profit.Absolute, "%.*f "+r.base),
		r.signed(profit.Percent, "%.*f%%"),
		r.signed(profit.PercentPerDay, "%.*f%%"),
	})

	rendered := w.Render()
	if idx := strings.IndexByte(rendered, '\n'); idx > 0 {
		rule := rendered[:idx]
		fmt.Fprintln(r.out, rule)
		fmt.Fprintln(r.out, rendered)
		fmt.Fprintln(r.out, rule)
	} else {
		fmt.Fprintln(r.out, rendered)
	}
}

// signed colors a profit figure green with an explicit plus when positive,
// red otherwise.
func (r *Reporter) signed(value float64, format string) string {
	s := fmt.Sprintf(format, r.decimals, value)
	if value > 0 {
		return text.FgGreen.Sprintf("+%s", s)
	}
	return text.FgRed.Sprint(s)
}

// FormatUptime renders a duration as a compact day/hour/minute/second
// string, e.g. "2d 3h 4m 5s". Sub-minute runtimes keep the seconds only.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 || seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}
