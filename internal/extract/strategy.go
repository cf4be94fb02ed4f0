package extract

import (
	"strconv"
	"strings"

	"github.com/docuflow/receiptscan/internal/patterns"
)

// TotalStrategy infers a total amount when the text carries no
// keyword-labeled total. Implementations can be swapped per deployment
// to trade recall for precision.
type TotalStrategy interface {
	// InferTotal returns the inferred total and whether one was found.
	InferTotal(text string, lib *patterns.Library) (int64, bool)
}

// LargestAmount assumes the largest numeric amount anywhere in the text
// is the grand total. Fragile on receipts that print card numbers or
// approval codes as bare digit runs, but a strong default for typical
// register output.
type LargestAmount struct{}

// InferTotal implements TotalStrategy.
func (LargestAmount) InferTotal(text string, lib *patterns.Library) (int64, bool) {
	var best int64
	found := false

	for _, re := range lib.Amount {
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			// The last capture group is the numeric value.
			raw := strings.ReplaceAll(match[len(match)-1], ",", "")
			value, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			if !found || value > best {
				best = value
				found = true
			}
		}
	}

	return best, found
}
