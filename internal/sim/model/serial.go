package model

// Serial identifies every entity (mobile, item, fixture, component). All
// entities share one serial space.
type Serial uint64

// Serials hands out monotonically increasing serials. The next value is
// persisted in snapshots so identities survive restarts.
type Serials struct {
	next uint64
}

func NewSerials(next uint64) *Serials {
	if next == 0 {
		next = 1
	}
	return &Serials{next: next}
}

func (s *Serials) Next() Serial {
	n := s.next
	s.next++
	return Serial(n)
}

// Peek returns the serial the next call to Next will return.
func (s *Serials) Peek() uint64 { return s.next }
