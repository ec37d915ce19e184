package rules

import (
	"fmt"
	"sort"
	"strings"

	"fixturecraft.ai/internal/sim/model"
)

// Holding is everything a mobile carries of one item kind.
type Holding struct {
	Kind     string
	Quantity int
	Items    []*model.Item
}

type Holdings map[string]*Holding

func (h Holdings) add(it *model.Item) {
	if !it.Valid() {
		return
	}
	e := h[it.Kind]
	if e == nil {
		e = &Holding{Kind: it.Kind}
		h[it.Kind] = e
	}
	e.Quantity += it.Quantity()
	e.Items = append(e.Items, it)
}

func (h Holdings) Quantity(kind string) int {
	if e := h[kind]; e != nil {
		return e.Quantity
	}
	return 0
}

// Flatten collects equipped items, the cursor item and the backpack contents,
// unpacking nested containers. The backpack itself is not counted.
func Flatten(m *model.Mobile) Holdings {
	h := Holdings{}
	if m == nil {
		return h
	}
	var walk func(it *model.Item)
	walk = func(it *model.Item) {
		if !it.Valid() {
			return
		}
		h.add(it)
		for _, c := range it.Items {
			walk(c)
		}
	}
	for _, it := range m.Equipped {
		walk(it)
	}
	walk(m.Holding)
	if m.Backpack.Valid() {
		for _, it := range m.Backpack.Items {
			walk(it)
		}
	}
	return h
}

// Hands performs the one up-front side effect of validation: whatever is on
// the cursor goes back to the pack.
type Hands interface {
	ClearHand(m *model.Mobile)
}

type Namer interface {
	Name(kind string) string
}

type Engine struct {
	Names Namer
	Hands Hands
}

// Validate returns one description per failing condition of every active
// rule. An empty result means the mobile passes.
func (e Engine) Validate(rs *RuleSet, m *model.Mobile) []string {
	if rs.Empty() || m == nil {
		return nil
	}
	if e.Hands != nil && m.Holding != nil {
		e.Hands.ClearHand(m)
	}

	var failures []string
	for _, r := range rs.Rules {
		if !r.Active {
			continue
		}
		// Holdings are re-collected for every rule.
		held := Flatten(m)
		for _, c := range r.Conditions {
			ok, holdings := e.evaluate(c, held, m)
			if ok {
				continue
			}
			failures = append(failures, r.Render(c, e.name(c.Item), holdings))
		}
	}
	return failures
}

func (e Engine) evaluate(c *Condition, held Holdings, m *model.Mobile) (bool, string) {
	switch c.Kind {
	case ItemCount:
		have := held.Quantity(c.Item)
		if c.Compare.Eval(have, c.Quantity) {
			return true, ""
		}
		return false, fmt.Sprintf("%d %s", have, e.name(c.Item))
	case ItemProperty:
		for _, it := range e.instances(c.Item, held) {
			v, _ := it.Prop(c.Property)
			if !c.Compare.Eval(v, c.Value) {
				return false, fmt.Sprintf("%s with %s %d", e.name(it.Kind), c.Property, v)
			}
		}
		return true, ""
	case MobileProperty:
		v, _ := m.Prop(c.Property)
		if c.Compare.Eval(v, c.Value) {
			return true, ""
		}
		return false, fmt.Sprintf("%s %d", c.Property, v)
	}
	return false, ""
}

// instances lists distinct held items of kind, or of every kind for "" / "*".
func (e Engine) instances(kind string, held Holdings) []*model.Item {
	if kind != "" && kind != "*" {
		if h := held[kind]; h != nil {
			return h.Items
		}
		return nil
	}
	kinds := make([]string, 0, len(held))
	for k := range held {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	var out []*model.Item
	for _, k := range kinds {
		out = append(out, held[k].Items...)
	}
	return out
}

func (e Engine) name(kind string) string {
	if kind == "" || kind == "*" {
		return "items"
	}
	if e.Names != nil {
		return e.Names.Name(kind)
	}
	return strings.ToLower(kind)
}
