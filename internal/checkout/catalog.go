// Package checkout implements the LLC-formation checkout flow: composing a
// processor checkout from a state and add-on selection, verifying that a
// checkout completed, and creating the recurring subscription that could not
// ride along in the checkout itself.
package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"llcstack/internal/types"
)

// StateFees are the one-time fees charged for forming an LLC in a state, in cents.
type StateFees struct {
	BaseFee   int64 `json:"base_fee" validate:"gt=0"`
	FilingFee int64 `json:"filing_fee" validate:"gt=0"`
}

// RecurringPrice references a processor price for a recurring add-on. An
// empty PriceID means the add-on is not offered.
type RecurringPrice struct {
	PriceID  string                `json:"price_id"`
	Interval types.BillingInterval `json:"interval" validate:"oneof=year month"`
}

// Catalog is the pricing table. It is read-only after construction.
type Catalog struct {
	States          map[string]StateFees              `json:"states" validate:"required,min=1,dive,keys,len=2,uppercase,endkeys"`
	OneTimeAmounts  map[types.AddOnKey]int64          `json:"one_time" validate:"dive,keys,oneof=ein certified_copy,endkeys,gt=0"`
	RecurringPrices map[types.AddOnKey]RecurringPrice `json:"recurring" validate:"dive,keys,oneof=ra mail_forwarding,endkeys"`
}

// defaultStates is the launch set of formation states.
var defaultStates = map[string]StateFees{
	"FL": {BaseFee: 400, FilingFee: 12500},
	"DE": {BaseFee: 400, FilingFee: 11000},
	"WY": {BaseFee: 400, FilingFee: 10000},
	"CO": {BaseFee: 400, FilingFee: 5000},
	"NY": {BaseFee: 400, FilingFee: 20000},
}

// DefaultCatalog returns the built-in pricing with the given recurring price
// references. Either reference may be empty.
func DefaultCatalog(raYearlyPriceID, mailMonthlyPriceID string) *Catalog {
	states := make(map[string]StateFees, len(defaultStates))
	for k, v := range defaultStates {
		states[k] = v
	}
	return &Catalog{
		States: states,
		OneTimeAmounts: map[types.AddOnKey]int64{
			types.AddOnEIN:           4900,
			types.AddOnCertifiedCopy: 3900,
		},
		RecurringPrices: map[types.AddOnKey]RecurringPrice{
			types.AddOnRegisteredAgent: {PriceID: raYearlyPriceID, Interval: types.IntervalYearly},
			types.AddOnMailForwarding:  {PriceID: mailMonthlyPriceID, Interval: types.IntervalMonthly},
		},
	}
}

// ParseCatalog decodes a JSON catalog and validates it.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalConfiguration, "pricing catalog is not valid JSON", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalog builds the catalog used at runtime. With an empty override the
// built-in table is used. Recurring add-ons the override leaves out, or
// leaves without a price, fall back to the given references.
func LoadCatalog(overrideJSON, raYearlyPriceID, mailMonthlyPriceID string) (*Catalog, error) {
	defaults := DefaultCatalog(raYearlyPriceID, mailMonthlyPriceID)
	if strings.TrimSpace(overrideJSON) == "" {
		if err := defaults.Validate(); err != nil {
			return nil, err
		}
		return defaults, nil
	}

	c, err := ParseCatalog([]byte(overrideJSON))
	if err != nil {
		return nil, err
	}
	if c.RecurringPrices == nil {
		c.RecurringPrices = make(map[types.AddOnKey]RecurringPrice, 2)
	}
	for key, def := range defaults.RecurringPrices {
		cur, ok := c.RecurringPrices[key]
		switch {
		case !ok:
			c.RecurringPrices[key] = def
		case cur.PriceID == "":
			cur.PriceID = def.PriceID
			c.RecurringPrices[key] = cur
		}
	}
	return c, nil
}

var catalogValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that every offered state has both fees, one-time amounts
// are positive, and recurring intervals are known.
func (c *Catalog) Validate() error {
	err := catalogValidator.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalConfiguration, "pricing catalog validation failed", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeInternalConfiguration,
		"pricing catalog is incomplete: "+strings.Join(fields, ", "),
		err,
		map[string]any{"fields": fields},
	)
}

// Fees returns the fees for a state. States are matched exactly.
func (c *Catalog) Fees(state string) (StateFees, error) {
	fees, ok := c.States[state]
	if !ok || fees.BaseFee <= 0 || fees.FilingFee <= 0 {
		return StateFees{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnsupportedRegion,
			fmt.Sprintf("formation in state %q is not offered", state),
			nil,
			map[string]any{"state": state},
		)
	}
	return fees, nil
}

// OneTime returns the amount of a one-time add-on.
func (c *Catalog) OneTime(addOn types.AddOnKey) (int64, bool) {
	amount, ok := c.OneTimeAmounts[addOn]
	return amount, ok && amount > 0
}

// Recurring returns the price reference for a recurring add-on. ok is false
// when the add-on has no configured price.
func (c *Catalog) Recurring(addOn types.AddOnKey) (RecurringPrice, bool) {
	p, ok := c.RecurringPrices[addOn]
	return p, ok && p.PriceID != ""
}

// SupportedStates returns the offered state codes in sorted order.
func (c *Catalog) SupportedStates() []string {
	out := make([]string, 0, len(c.States))
	for s := range c.States {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// UnconfiguredRecurring lists the recurring add-ons that have no price
// reference, in a stable order.
func (c *Catalog) UnconfiguredRecurring() []types.AddOnKey {
	var out []types.AddOnKey
	for _, key := range []types.AddOnKey{types.AddOnRegisteredAgent, types.AddOnMailForwarding} {
		if _, ok := c.Recurring(key); !ok {
			out = append(out, key)
		}
	}
	return out
}
