package model

type AccessLevel int

const (
	AccessPlayer AccessLevel = iota
	AccessCounselor
	AccessGameMaster
	AccessAdministrator
)

// Elevated reports whether the access level bypasses ownership checks.
func (a AccessLevel) Elevated() bool { return a >= AccessGameMaster }

type Mobile struct {
	Serial      Serial
	Name        string
	Pos         Vec3i
	Map         MapID
	AccessLevel AccessLevel

	Alive     bool
	Connected bool
	Deleted   bool

	// Backpack may be nil (e.g. dead or naked); deliveries then drop at Pos.
	Backpack *Item
	Equipped []*Item
	// Holding is the item on the cursor, if any.
	Holding *Item

	// Props holds named numeric properties (str, dex, fame, skills, ...).
	Props map[string]int
}

func (m *Mobile) Valid() bool { return m != nil && !m.Deleted }

func (m *Mobile) Prop(name string) (int, bool) {
	if m == nil || m.Props == nil {
		return 0, false
	}
	v, ok := m.Props[name]
	return v, ok
}
