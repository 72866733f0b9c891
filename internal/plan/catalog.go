package plan

import "fmt"

// Catalog is the read-only registry of subscription tiers
type Catalog struct {
	plans map[ID]Plan
	order []ID
}

var defaults = []Plan{
	{ID: Free, DisplayName: "Free", ScanLimit: Scans(10)},
	{ID: Student, DisplayName: "Student", ScanLimit: Scans(100), MonthlyPrice: 99, YearlyPrice: 999},
	{ID: Professional, DisplayName: "Professional", ScanLimit: Unlimited, MonthlyPrice: 299, YearlyPrice: 2999},
	{ID: Business, DisplayName: "Business", ScanLimit: Unlimited, MonthlyPrice: 999, YearlyPrice: 9999},
}

// NewCatalog returns the catalog of the four built-in tiers
func NewCatalog() *Catalog {
	c := &Catalog{
		plans: make(map[ID]Plan, len(defaults)),
		order: make([]ID, 0, len(defaults)),
	}
	for _, p := range defaults {
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c
}

// Lookup returns the plan with the given id
func (c *Catalog) Lookup(id ID) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return p, nil
}

// Plans returns every plan in display order
func (c *Catalog) Plans() []Plan {
	plans := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		plans = append(plans, c.plans[id])
	}
	return plans
}
