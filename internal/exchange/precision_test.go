package exchange

import (
	"strings"
	"testing"

	"maker-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

// TestAdjustValueToStep verifies rounding-down against string step filters.
func TestAdjustValueToStep(t *testing.T) {
	cases := []struct {
		value    float64
		step     string
		expected float64
	}{
		{123.456789, "0.01", 123.45},
		{123.456789, "0.0001", 123.4567},
		{123.456789, "1", 123},
		{123.999, "1", 123},
		{0.00001234, "0.00000001", 0.00001234},
		{5, "0.1", 5},
		// no step known: pass through unchanged
		{123.456789, "", 123.456789},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.expected, adjustValueToStep(tc.value, tc.step), 1e-12,
			"value %v step %q", tc.value, tc.step)
	}
}

// TestFormatByStep renders with exactly the step's decimal places.
func TestFormatByStep(t *testing.T) {
	assert.Equal(t, "123.45", formatByStep(123.456789, "0.01"))
	assert.Equal(t, "123", formatByStep(123.9, "1"))
	assert.Equal(t, "0.000012", formatByStep(0.0000123456, "0.000001"))
}

// TestNewClientOrderID checks the prefix, side tag, and uniqueness.
func TestNewClientOrderID(t *testing.T) {
	buyID := newClientOrderID(models.Buy)
	sellID := newClientOrderID(models.Sell)

	assert.True(t, strings.HasPrefix(buyID, "mm"))
	assert.True(t, strings.HasSuffix(buyID, "b"))
	assert.True(t, strings.HasSuffix(sellID, "s"))
	assert.NotEqual(t, buyID, sellID)
}
