package transform

// Aligner regroups arbitrarily sized chunks into runs that are an exact
// multiple of a codec's alignment unit. It carries at most unit-1 bytes
// between calls.
type Aligner struct {
	unit  int
	carry []byte
}

func NewAligner(unit int) *Aligner {
	if unit < 1 {
		unit = 1
	}
	return &Aligner{unit: unit, carry: make([]byte, 0, unit)}
}

// Push returns the longest aligned run available after appending p to the
// carried bytes. The result may alias p and is only valid until the next
// call; it is empty when less than one unit is available.
func (a *Aligner) Push(p []byte) []byte {
	if len(a.carry) == 0 {
		n := len(p) - len(p)%a.unit
		a.carry = append(a.carry, p[n:]...)
		return p[:n]
	}

	total := len(a.carry) + len(p)
	n := total - total%a.unit
	if n == 0 {
		a.carry = append(a.carry, p...)
		return nil
	}

	out := make([]byte, n)
	c := copy(out, a.carry)
	copy(out[c:], p)
	a.carry = append(a.carry[:0], p[n-c:]...)
	return out
}

// Flush returns the carried bytes and resets the aligner.
func (a *Aligner) Flush() []byte {
	if len(a.carry) == 0 {
		return nil
	}
	rest := make([]byte, len(a.carry))
	copy(rest, a.carry)
	a.carry = a.carry[:0]
	return rest
}

// Pending is the number of carried bytes.
func (a *Aligner) Pending() int { return len(a.carry) }
