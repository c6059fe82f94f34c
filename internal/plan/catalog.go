// AngelaMos | 2026
// catalog.go

package plan

import (
	"fmt"
	"slices"

	"github.com/carterperez-dev/modelforge/internal/config"
	"github.com/carterperez-dev/modelforge/internal/core"
)

// MinorUnitsPerMajor converts catalog prices (whole rupees) into the
// gateway's amount unit (paise).
const MinorUnitsPerMajor = 100

// Plan prices are in major currency units.
type Plan struct {
	Name          string   `json:"name"`
	Price         int64    `json:"price"`
	OriginalPrice int64    `json:"originalPrice,omitempty"`
	Conversions   int      `json:"conversions"`
	Features      []string `json:"features"`
	Highlight     bool     `json:"highlight"`
}

// Catalog is the closed set of purchasable plans. It is built once at
// startup and never mutated, so it is safe for concurrent readers.
type Catalog struct {
	plans  []Plan
	byName map[string]Plan
}

func NewCatalog(plans []config.PlanConfig) (*Catalog, error) {
	c := &Catalog{
		plans:  make([]Plan, 0, len(plans)),
		byName: make(map[string]Plan, len(plans)),
	}

	for _, pc := range plans {
		if _, dup := c.byName[pc.Name]; dup {
			return nil, fmt.Errorf("plan %q: %w", pc.Name, core.ErrDuplicateKey)
		}
		if pc.Conversions <= 0 || pc.Price <= 0 {
			return nil, fmt.Errorf("plan %q: %w", pc.Name, core.ErrInvalidInput)
		}

		p := Plan{
			Name:          pc.Name,
			Price:         pc.Price,
			OriginalPrice: pc.OriginalPrice,
			Conversions:   pc.Conversions,
			Features:      slices.Clone(pc.Features),
			Highlight:     pc.Highlight,
		}
		c.plans = append(c.plans, p)
		c.byName[p.Name] = p
	}

	return c, nil
}

// AmountMinor is the price as a gateway order amount.
func (p Plan) AmountMinor() int64 {
	return p.Price * MinorUnitsPerMajor
}

// Lookup matches the plan name exactly.
func (c *Catalog) Lookup(name string) (Plan, bool) {
	p, ok := c.byName[name]
	return p, ok
}

func (c *Catalog) Plans() []Plan {
	return slices.Clone(c.plans)
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.plans))
	for _, p := range c.plans {
		names = append(names, p.Name)
	}
	return names
}
