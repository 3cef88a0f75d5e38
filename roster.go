package mls

// Roster is an ordered sequence of optional credentials aligned with the
// tree's leaves; a nil entry marks a removed (gap) member. Cardinality
// matches the tree's leaf layer.
type Roster struct {
	Entries []*Credential `tls:"head=4"`
}

func newRoster() *Roster {
	return &Roster{Entries: []*Credential{}}
}

// add records cred at index, growing the roster if necessary.
func (r *Roster) add(index leafIndex, cred Credential) {
	for leafIndex(len(r.Entries)) <= index {
		r.Entries = append(r.Entries, nil)
	}
	r.Entries[index] = &cred
}

// remove clears index to absent.
func (r *Roster) remove(index leafIndex) error {
	if int(index) >= len(r.Entries) {
		return invalidParameterf("mls.roster: index %d out of range", index)
	}
	r.Entries[index] = nil
	return nil
}

func (r *Roster) get(index leafIndex) (Credential, bool) {
	if int(index) >= len(r.Entries) || r.Entries[index] == nil {
		return Credential{}, false
	}
	return *r.Entries[index], true
}

func (r Roster) size() leafCount {
	return leafCount(len(r.Entries))
}

func (r Roster) clone() *Roster {
	entries := make([]*Credential, len(r.Entries))
	for i, e := range r.Entries {
		if e == nil {
			continue
		}
		c := *e
		entries[i] = &c
	}
	return &Roster{Entries: entries}
}

func (r Roster) Equals(o Roster) bool {
	if len(r.Entries) != len(o.Entries) {
		return false
	}
	for i := range r.Entries {
		switch {
		case (r.Entries[i] == nil) != (o.Entries[i] == nil):
			return false
		case r.Entries[i] == nil:
			continue
		case !r.Entries[i].Equals(*o.Entries[i]):
			return false
		}
	}
	return true
}
