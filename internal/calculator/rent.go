package calculator

import (
	"fmt"
	"strings"
)

// RentRule holds the simplified state-specific tenancy limits.
type RentRule struct {
	DepositCap       int
	NoticePeriodDays int
	Law              string
}

// rentRules maps upper-cased state names to their rule set. OTHER is the
// mandatory fallback for unlisted states.
var rentRules = map[string]RentRule{
	"DELHI":       {DepositCap: 2, NoticePeriodDays: 30, Law: "Delhi Rent Control Act / Tenancy Act"},
	"KARNATAKA":   {DepositCap: 6, NoticePeriodDays: 60, Law: "Karnataka Rent Act / Model Tenancy Act principles"},
	"MAHARASHTRA": {DepositCap: 3, NoticePeriodDays: 30, Law: "Maharashtra Rent Control Act"},
	"OTHER":       {DepositCap: 3, NoticePeriodDays: 30, Law: "Standard contract law principles"},
}

// RentRuleFor returns the rule set for a state along with the normalized state
// name actually used. Unknown or empty states fall back to OTHER.
func RentRuleFor(state string) (string, RentRule) {
	clean := strings.ToUpper(strings.TrimSpace(state))
	if clean == "" {
		clean = "OTHER"
	}
	rule, ok := rentRules[clean]
	if !ok {
		return clean, rentRules["OTHER"]
	}
	return clean, rule
}

// RentDepositResult is the outcome of a deposit legality check.
type RentDepositResult struct {
	TotalDeposit         float64 `json:"totalDeposit"`
	RefundLiability      float64 `json:"refundLiability"`
	IsDepositLegal       bool    `json:"isDepositLegal"`
	NoticePeriodDays     int     `json:"noticePeriodDays"`
	InitialDepositMonths int     `json:"initialDepositMonths"`
	State                string  `json:"state"`
	LegalRule            string  `json:"legalRule"`
	DepositCap           int     `json:"depositCap"`
	Message              string  `json:"message"`
}

// RentDeposit checks a deposit against the state's cap and reports the total,
// the assumed refund liability, and the minimum notice period.
func RentDeposit(state string, monthlyRent float64, depositMonths int) RentDepositResult {
	cleanState, rule := RentRuleFor(state)
	totalDeposit := monthlyRent * float64(depositMonths)

	return RentDepositResult{
		TotalDeposit:         totalDeposit,
		RefundLiability:      totalDeposit,
		IsDepositLegal:       depositMonths <= rule.DepositCap,
		NoticePeriodDays:     rule.NoticePeriodDays,
		InitialDepositMonths: depositMonths,
		State:                cleanState,
		LegalRule:            rule.Law,
		DepositCap:           rule.DepositCap,
		Message: fmt.Sprintf(
			"Your total deposit was ₹%s. The legal cap in %s is %d months' rent. The minimum notice period for eviction/vacation is %d days.",
			formatAmount(totalDeposit), cleanState, rule.DepositCap, rule.NoticePeriodDays,
		),
	}
}

// formatAmount renders an amount with thousands separators, dropping the
// fraction when it is whole.
func formatAmount(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	whole, frac := s[:len(s)-3], s[len(s)-2:]
	if frac == "00" {
		frac = ""
	}

	neg := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")

	var b strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}

	out := b.String()
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
