package pricing

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	extErrors "github.com/pkg/errors"
)

// Plan describes the pair of Stripe Prices every member subscribes to:
// the monthly club fee and the annual facility fee. The Prices must exist
// on Stripe before the API starts; their IDs are configuration, not code.
type Plan struct {
	MonthlyPriceID string `json:"monthlyPriceId"` // Stripe Price ID of the monthly club fee
	AnnualPriceID  string `json:"annualPriceId"`  // Stripe Price ID of the annual facility fee
	MonthlyAmount  int64  `json:"monthlyAmount"`  // Steady-state monthly amount in cents
	AnnualAmount   int64  `json:"annualAmount"`   // Steady-state annual amount in cents
	Currency       string `json:"currency"`       // The ISO currency code (e.g. eur)
}

// LoadPlanFromFile will read the plan JSON file defining the two base prices
func LoadPlanFromFile(filename string) (*Plan, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open plan JSON file")
	}
	var plan Plan
	if err := json.Unmarshal(jsonBytes, &plan); err != nil {
		return nil, extErrors.Wrap(err, "Invalid plan JSON file")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks that both base price identifiers are present. A plan
// missing either side cannot produce a quote.
func (p *Plan) Validate() error {
	if len(p.MonthlyPriceID) == 0 {
		return fmt.Errorf("empty MonthlyPriceID is invalid")
	}
	if len(p.AnnualPriceID) == 0 {
		return fmt.Errorf("empty AnnualPriceID is invalid")
	}
	if p.MonthlyAmount <= 0 {
		return fmt.Errorf("non-positive MonthlyAmount is invalid")
	}
	if p.AnnualAmount <= 0 {
		return fmt.Errorf("non-positive AnnualAmount is invalid")
	}
	return nil
}

// NextMonthStart returns midnight on the first day of the month after ref.
// The monthly fee anchors its billing cycle there; the first invoice is
// prorated from signup until then.
func NextMonthStart(ref time.Time) time.Time {
	year, month, _ := ref.Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, ref.Location()).AddDate(0, 1, 0)
}

// NextAnnualAnchor returns the next January 7th strictly after ref. The
// annual facility fee bills everyone on the same day regardless of when
// they joined.
func NextAnnualAnchor(ref time.Time) time.Time {
	anchor := time.Date(ref.Year(), time.January, 7, 0, 0, 0, 0, ref.Location())
	if !anchor.After(ref) {
		anchor = anchor.AddDate(1, 0, 0)
	}
	return anchor
}
