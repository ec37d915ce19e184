// Package rules evaluates tourney rule sets against a mobile's holdings and
// properties.
package rules

import (
	"fmt"
	"strings"

	"fixturecraft.ai/internal/sim/catalogs"
)

type Kind string

const (
	ItemCount      Kind = "item_count"
	ItemProperty   Kind = "item_property"
	MobileProperty Kind = "mobile_property"
)

type Compare string

const (
	AtLeast  Compare = ">="
	AtMost   Compare = "<="
	Equal    Compare = "=="
	NotEqual Compare = "!="
	Above    Compare = ">"
	Below    Compare = "<"
)

func (c Compare) Valid() bool {
	switch c {
	case AtLeast, AtMost, Equal, NotEqual, Above, Below:
		return true
	}
	return false
}

func (c Compare) Eval(have, want int) bool {
	switch c {
	case AtLeast:
		return have >= want
	case AtMost:
		return have <= want
	case Equal:
		return have == want
	case NotEqual:
		return have != want
	case Above:
		return have > want
	case Below:
		return have < want
	}
	return false
}

// Words renders the comparison for rule text.
func (c Compare) Words() string {
	switch c {
	case AtLeast:
		return "at least"
	case AtMost:
		return "at most"
	case Equal:
		return "exactly"
	case NotEqual:
		return "not"
	case Above:
		return "more than"
	case Below:
		return "less than"
	}
	return string(c)
}

type Condition struct {
	Kind     Kind
	Item     string
	Property string
	Compare  Compare
	// Quantity is the threshold for item counts, Value for properties.
	Quantity int
	Value    int
	// Only configurable thresholds survive a reload of the definitions.
	Configurable bool

	defaultQuantity int
	defaultValue    int
}

func (c *Condition) reset() {
	c.Quantity = c.defaultQuantity
	c.Value = c.defaultValue
}

type Rule struct {
	ID       string
	Template string
	Active   bool

	Conditions []*Condition

	defaultActive bool
}

type RuleSet struct {
	Version int
	Rules   []*Rule
}

// FromCatalog builds a fresh rule set with authored defaults.
func FromCatalog(tc catalogs.TourneyCatalog) (*RuleSet, error) {
	rs := &RuleSet{Version: tc.Version}
	for i, rd := range tc.Rules {
		r := &Rule{ID: rd.ID, Template: rd.Description, Active: rd.Active, defaultActive: rd.Active}
		for j, cd := range rd.Conditions {
			c := &Condition{
				Kind:            Kind(cd.Type),
				Item:            cd.Item,
				Property:        cd.Property,
				Compare:         Compare(cd.Compare),
				Quantity:        cd.Quantity,
				Value:           cd.Value,
				Configurable:    cd.Configurable,
				defaultQuantity: cd.Quantity,
				defaultValue:    cd.Value,
			}
			if c.Compare == "" {
				c.Compare = AtLeast
			}
			if err := c.validate(); err != nil {
				return nil, fmt.Errorf("rule %d (%s) condition %d: %w", i, rd.ID, j, err)
			}
			r.Conditions = append(r.Conditions, c)
		}
		rs.Rules = append(rs.Rules, r)
	}
	return rs, nil
}

func (c *Condition) validate() error {
	if !c.Compare.Valid() {
		return fmt.Errorf("bad compare %q", c.Compare)
	}
	switch c.Kind {
	case ItemCount:
		if c.Item == "" {
			return fmt.Errorf("item_count needs an item")
		}
	case ItemProperty:
		if c.Property == "" {
			return fmt.Errorf("item_property needs a property")
		}
	case MobileProperty:
		if c.Property == "" {
			return fmt.Errorf("mobile_property needs a property")
		}
	default:
		return fmt.Errorf("unknown condition type %q", c.Kind)
	}
	return nil
}

// Empty reports whether no rule is active.
func (rs *RuleSet) Empty() bool {
	if rs == nil {
		return true
	}
	for _, r := range rs.Rules {
		if r.Active {
			return false
		}
	}
	return true
}

// Reset restores every rule and threshold to its authored default.
func (rs *RuleSet) Reset() {
	for _, r := range rs.Rules {
		r.Active = r.defaultActive
		for _, c := range r.Conditions {
			c.reset()
		}
	}
}

func (rs *RuleSet) SetActive(rule int, on bool) error {
	if rule < 0 || rule >= len(rs.Rules) {
		return fmt.Errorf("rules: no rule %d", rule)
	}
	rs.Rules[rule].Active = on
	return nil
}

// Configure changes a configurable condition's threshold.
func (rs *RuleSet) Configure(rule, cond, threshold int) error {
	if rule < 0 || rule >= len(rs.Rules) {
		return fmt.Errorf("rules: no rule %d", rule)
	}
	r := rs.Rules[rule]
	if cond < 0 || cond >= len(r.Conditions) {
		return fmt.Errorf("rules: rule %s has no condition %d", r.ID, cond)
	}
	c := r.Conditions[cond]
	if !c.Configurable {
		return fmt.Errorf("rules: rule %s condition %d is not configurable", r.ID, cond)
	}
	if c.Kind == ItemCount {
		c.Quantity = threshold
	} else {
		c.Value = threshold
	}
	return nil
}

// Render fills the rule's template for one failing condition.
func (r *Rule) Render(c *Condition, itemName, holdings string) string {
	tmpl := r.Template
	if strings.TrimSpace(tmpl) == "" {
		tmpl = "You do not meet the requirements of rule " + r.ID + "."
	}
	return strings.NewReplacer(
		"{item}", itemName,
		"{quantity}", fmt.Sprint(c.Quantity),
		"{property}", c.Property,
		"{value}", fmt.Sprint(c.Value),
		"{compare}", c.Compare.Words(),
		"{holdings}", holdings,
	).Replace(tmpl)
}
