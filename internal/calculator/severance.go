// Package calculator implements the simplified legal calculators: severance
// pay and rent deposit checks.
package calculator

import (
	"fmt"
	"math"
	"strconv"
)

// SeveranceResult is the outcome of a severance estimate.
type SeveranceResult struct {
	Amount float64 `json:"amount"`
	Rule   string  `json:"rule"`
}

// Severance estimates severance pay as 15 days of salary for every completed
// year of service, using a 26-day working month for the daily rate. State is
// carried into the explanation only; state-specific rules may refine this
// later.
func Severance(state string, monthlySalary, yearsOfService float64) SeveranceResult {
	if monthlySalary <= 0 || yearsOfService < 1 {
		return SeveranceResult{
			Amount: 0,
			Rule:   "Years of service must be 1 or more, and salary must be positive.",
		}
	}

	dailyRate := monthlySalary / 26
	amount := math.Round(dailyRate * 15 * yearsOfService)

	rule := fmt.Sprintf(
		"Based on a simplified 15 days' pay per year rule (common in Indian labor law), calculated using a 26-day working month for a total of %s completed years in %s.",
		strconv.FormatFloat(yearsOfService, 'f', -1, 64), state,
	)
	return SeveranceResult{Amount: amount, Rule: rule}
}
