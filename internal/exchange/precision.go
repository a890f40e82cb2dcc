package exchange

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"maker-bot-go/internal/models"

	"github.com/jxskiss/base62"
)

// adjustValueToStep 通过字符串操作确保精度，避免浮点数计算误差
// Steps arrive from the exchange as strings like "0.0001" or "1"; values are
// always rounded down so the result never violates the filter.
func adjustValueToStep(value float64, step string) float64 {
	if step == "" {
		return value
	}
	if !strings.Contains(step, ".") {
		// 如果步长是 "1", "10" 等整数，直接取整
		return math.Floor(value)
	}
	decimalPlaces := len(step) - strings.Index(step, ".") - 1

	// 乘以一个因子再取整，然后再除以这个因子，是处理浮点数精度的常用方法
	factor := math.Pow(10, float64(decimalPlaces))
	adjustedValue := math.Floor(value*factor) / factor

	// 最终再用 strconv 确保转换的正确性
	finalValue, _ := strconv.ParseFloat(fmt.Sprintf("%.*f", decimalPlaces, adjustedValue), 64)
	return finalValue
}

// formatByStep renders a value as a string with exactly the step's decimal
// places, for APIs that take quantities and prices as strings.
func formatByStep(value float64, step string) string {
	adjusted := adjustValueToStep(value, step)
	if !strings.Contains(step, ".") {
		return strconv.FormatFloat(adjusted, 'f', 0, 64)
	}
	decimalPlaces := len(step) - strings.Index(step, ".") - 1
	return strconv.FormatFloat(adjusted, 'f', decimalPlaces, 64)
}

// newClientOrderID builds a unique client order ID. Base62 keeps it inside
// the venues' alphanumeric ID rules while staying sortable enough to read in
// their UIs.
func newClientOrderID(side models.Side) string {
	tag := "b"
	if side == models.Sell {
		tag = "s"
	}
	return "mm" + string(base62.FormatInt(time.Now().UnixNano())) + tag
}
