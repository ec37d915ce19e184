package model

import "testing"

func TestHouseContains(t *testing.T) {
	h := &House{
		Map:   "FELUCCA",
		Areas: []Rect{{X1: 10, Y1: 10, X2: 14, Y2: 14}},
		MinZ:  0,
		MaxZ:  39,
	}
	cases := []struct {
		m    MapID
		p    Vec3i
		want bool
	}{
		{m: "FELUCCA", p: Vec3i{X: 10, Y: 10, Z: 0}, want: true},
		{m: "FELUCCA", p: Vec3i{X: 14, Y: 14, Z: 20}, want: true},
		{m: "FELUCCA", p: Vec3i{X: 15, Y: 14, Z: 0}, want: false},
		{m: "FELUCCA", p: Vec3i{X: 12, Y: 12, Z: 40}, want: false},
		{m: "TRAMMEL", p: Vec3i{X: 12, Y: 12, Z: 0}, want: false},
	}
	for _, c := range cases {
		if got := h.Contains(c.m, c.p); got != c.want {
			t.Fatalf("Contains(%s,%v)=%v want %v", c.m, c.p, got, c.want)
		}
	}
}

func TestHouseIsOwner(t *testing.T) {
	h := &House{Owner: 1, CoOwners: map[Serial]bool{2: true}}
	if !h.IsOwner(&Mobile{Serial: 1}) || !h.IsOwner(&Mobile{Serial: 2}) {
		t.Fatalf("expected owner and co-owner to be recognised")
	}
	if h.IsOwner(&Mobile{Serial: 3}) {
		t.Fatalf("stranger must not own the house")
	}
	if h.IsOwner(&Mobile{Serial: 1, Deleted: true}) {
		t.Fatalf("deleted mobile must not own the house")
	}
}

func TestItemContainsNested(t *testing.T) {
	pack := &Item{Serial: 1, Container: true}
	pouch := &Item{Serial: 2, Container: true}
	gem := &Item{Serial: 3}
	pack.Add(pouch)
	pouch.Add(gem)
	if !pack.Contains(gem) {
		t.Fatalf("expected nested item to be found")
	}
	if !pouch.Remove(gem) || pack.Contains(gem) {
		t.Fatalf("expected gem to be removed")
	}
}
