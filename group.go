package mls

// GroupSession tracks a member's view of a group across epochs. Each
// mutating call advances to a freshly committed GroupState and keeps the
// one it replaces around, so a Handshake that references an older epoch
// (a duplicate delivery, or one's own outbound message echoed back) can
// still be resolved rather than rejected outright.
type GroupSession struct {
	states  map[uint32]*GroupState
	current uint32
}

// NewGroupSession wraps an already-constructed GroupState (from
// CreateGroup or JoinFromWelcome) as the session's starting epoch.
func NewGroupSession(initial *GroupState) *GroupSession {
	return &GroupSession{
		states:  map[uint32]*GroupState{initial.Epoch: initial},
		current: initial.Epoch,
	}
}

// Current returns the state for the session's current epoch.
func (s *GroupSession) Current() *GroupState {
	st, ok := s.states[s.current]
	if !ok {
		panic(protocolErrorf("mls.session: no state cached for current epoch %d", s.current))
	}
	return st
}

// AtEpoch returns the cached state for a past epoch, if the session still
// holds it.
func (s *GroupSession) AtEpoch(epoch uint32) (*GroupState, bool) {
	st, ok := s.states[epoch]
	return st, ok
}

func (s *GroupSession) advance(st *GroupState) {
	s.states[st.Epoch] = st
	s.current = st.Epoch
}

// AddMember signs and applies an Add on behalf of the current member,
// advancing the session and returning the Handshake and Welcome to hand
// off to the rest of the group and the joiner, respectively.
func (s *GroupSession) AddMember(uik UserInitKey, joinerInitKey DHPublicKey) (*Handshake, *Welcome, error) {
	st := s.Current()
	h, w, err := st.AddMember(uik, joinerInitKey)
	if err != nil {
		return nil, nil, err
	}
	s.advance(st)
	return h, w, nil
}

// Update ratchets the current member's own leaf.
func (s *GroupSession) Update(leafSecret []byte) (*Handshake, error) {
	st := s.Current()
	h, err := st.Update(leafSecret)
	if err != nil {
		return nil, err
	}
	s.advance(st)
	return h, nil
}

// RemoveMember evicts another member and repairs the tree in one step.
func (s *GroupSession) RemoveMember(removed leafIndex, leafSecret []byte) (*Handshake, error) {
	st := s.Current()
	h, err := st.RemoveMember(removed, leafSecret)
	if err != nil {
		return nil, err
	}
	s.advance(st)
	return h, nil
}

// Handle applies a Handshake received from another member. If it targets
// an epoch the session has already moved past, it is treated as a
// duplicate of a prior transition and silently ignored rather than
// rejected, since the session has no way to tell that apart from a stale
// retransmission once the confirmation has already been checked once.
func (s *GroupSession) Handle(h *Handshake) error {
	if h.PriorEpoch != s.current {
		if _, ok := s.states[h.PriorEpoch+1]; ok {
			return nil
		}
	}

	st := s.Current()
	if err := st.Apply(h); err != nil {
		return err
	}
	s.advance(st)
	return nil
}
