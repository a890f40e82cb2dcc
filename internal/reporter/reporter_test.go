package reporter

import (
	"bytes"
	"testing"
	"time"

	"maker-bot-go/internal/performance"

	"github.com/stretchr/testify/assert"
)

func TestFormatUptime(t *testing.T) {
	cases := []struct {
		d        time.Duration
		expected string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{3 * time.Minute, "3m"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 4*time.Minute, "2h 4m"},
		{50*time.Hour + 4*time.Minute + 5*time.Second, "2d 2h 4m 5s"},
		{-time.Minute, "0s"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, FormatUptime(tc.d), "duration %v", tc.d)
	}
}

// TestPrint renders the table with all columns populated.
func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, "USDT")

	r.Print(12*time.Hour, 1000, 1050, performance.Profit{
		Absolute:      50,
		Percent:       5,
		PercentPerDay: 10,
	})
	out := buf.String()

	assert.Contains(t, out, "12h")
	assert.Contains(t, out, "1000.00 USDT")
	assert.Contains(t, out, "1050.00 USDT")
	assert.Contains(t, out, "50.00 USDT")
	assert.Contains(t, out, "5.00%")
	assert.Contains(t, out, "10.00%")
	assert.Contains(t, out, "UPTIME")
}
