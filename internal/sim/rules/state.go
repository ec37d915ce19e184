package rules

// State is the persisted, positional override of a rule set. It is only
// honoured against a rule set with the same version and rule count.
type State struct {
	Version    int
	Active     []bool
	Conditions [][]ConditionState
}

type ConditionState struct {
	Quantity int
	Value    int
}

func (rs *RuleSet) State() State {
	s := State{
		Version:    rs.Version,
		Active:     make([]bool, len(rs.Rules)),
		Conditions: make([][]ConditionState, len(rs.Rules)),
	}
	for i, r := range rs.Rules {
		s.Active[i] = r.Active
		cs := make([]ConditionState, len(r.Conditions))
		for j, c := range r.Conditions {
			cs[j] = ConditionState{Quantity: c.Quantity, Value: c.Value}
		}
		s.Conditions[i] = cs
	}
	return s
}

// Apply restores persisted state. A version or rule-count mismatch means the
// state is stale: the rule set is reset to defaults and Apply returns false.
// Non-configurable conditions always keep their authored thresholds.
func (rs *RuleSet) Apply(s State) bool {
	if s.Version != rs.Version || len(s.Active) != len(rs.Rules) {
		rs.Reset()
		return false
	}
	for i, r := range rs.Rules {
		r.Active = s.Active[i]
		for j, c := range r.Conditions {
			c.reset()
			if !c.Configurable || i >= len(s.Conditions) || j >= len(s.Conditions[i]) {
				continue
			}
			c.Quantity = s.Conditions[i][j].Quantity
			c.Value = s.Conditions[i][j].Value
		}
	}
	return true
}
