package model

const KindDeed = "deed"

type Item struct {
	Serial Serial
	Kind   string
	Name   string
	Amount int
	Hue    int

	Container bool
	Items     []*Item

	// Parent is the serial of the container or mobile holding this item;
	// zero when the item lies in the world at Pos/Map.
	Parent Serial
	Pos    Vec3i
	Map    MapID

	Props map[string]int
	Deed  *DeedData

	Deleted bool
}

// DeedData is the construction payload a deed carries for its fixture.
type DeedData struct {
	FixtureID   string
	Orientation string
	Resource    string
	Redeemable  bool
	Hue         int
	Aux         map[string]int
}

func (d *DeedData) Clone() *DeedData {
	if d == nil {
		return nil
	}
	out := *d
	if d.Aux != nil {
		out.Aux = make(map[string]int, len(d.Aux))
		for k, v := range d.Aux {
			out.Aux[k] = v
		}
	}
	return &out
}

func (it *Item) Valid() bool { return it != nil && !it.Deleted }

// Quantity is the stack size, never less than one for a live item.
func (it *Item) Quantity() int {
	if it.Amount < 1 {
		return 1
	}
	return it.Amount
}

func (it *Item) Add(child *Item) {
	if child == nil {
		return
	}
	child.Parent = it.Serial
	child.Map = MapNone
	it.Items = append(it.Items, child)
}

// Remove detaches child from it. It reports whether child was present.
func (it *Item) Remove(child *Item) bool {
	for i, c := range it.Items {
		if c == child {
			it.Items = append(it.Items[:i], it.Items[i+1:]...)
			child.Parent = 0
			return true
		}
	}
	return false
}

// Contains reports whether target is it or nested anywhere inside it.
func (it *Item) Contains(target *Item) bool {
	if it == nil || target == nil {
		return false
	}
	if it == target {
		return true
	}
	for _, c := range it.Items {
		if c.Contains(target) {
			return true
		}
	}
	return false
}

func (it *Item) Prop(name string) (int, bool) {
	if it == nil || it.Props == nil {
		return 0, false
	}
	v, ok := it.Props[name]
	return v, ok
}
