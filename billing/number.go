package billing

import (
	"fmt"
	"time"
)

// FormatNumber renders the display number PREFIX-YYYYMM-NNNN.
// Sequences above 9999 widen instead of wrapping.
func FormatNumber(prefix string, year int, month time.Month, seq int) string {
	return fmt.Sprintf("%s-%04d%02d-%04d", prefix, year, int(month), seq)
}
