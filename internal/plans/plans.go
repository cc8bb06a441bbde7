// Package plans is the single source of truth for subscription tiers and
// their daily question quotas. Both the entitlement ledger and the pricing
// display endpoints read from here; nothing else defines quota numbers.
package plans

// Plan identifies a subscription tier.
type Plan string

const (
	Free    Plan = "free"
	Gold    Plan = "gold"
	Diamond Plan = "diamond"
)

// Details describes one tier as shown on the pricing surface.
type Details struct {
	Plan          Plan    `json:"plan"`
	DailyQuestions int    `json:"daily_questions"`
	PriceUSD      float64 `json:"price_usd"`
	Description   string  `json:"description"`
}

var catalog = map[Plan]Details{
	Free: {
		Plan:           Free,
		DailyQuestions: 5,
		PriceUSD:       0,
		Description:    "Try StudyPal with a handful of questions every day.",
	},
	Gold: {
		Plan:           Gold,
		DailyQuestions: 150,
		PriceUSD:       9.99,
		Description:    "Plenty of daily questions for regular homework help.",
	},
	Diamond: {
		Plan:           Diamond,
		DailyQuestions: 500,
		PriceUSD:       19.99,
		Description:    "Our highest daily allowance for heavy study sessions.",
	},
}

// Parse normalizes a stored plan string. Unknown values fall back to Free so
// a corrupted profile row never grants extra quota.
func Parse(s string) Plan {
	switch Plan(s) {
	case Gold:
		return Gold
	case Diamond:
		return Diamond
	default:
		return Free
	}
}

// QuotaFor returns the daily question quota for a plan.
func QuotaFor(p Plan) int {
	return catalog[Parse(string(p))].DailyQuestions
}

// Catalog returns all tiers in display order.
func Catalog() []Details {
	return []Details{catalog[Free], catalog[Gold], catalog[Diamond]}
}

// Paid reports whether the plan is purchased through checkout.
func (p Plan) Paid() bool {
	return p == Gold || p == Diamond
}
