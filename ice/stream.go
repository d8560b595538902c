package ice

import "sync"

// Stream groups the Components that make up one m-line's worth of ICE
// negotiation (spec.md §4.10). Most streams have a single component; RTP/
// RTCP mux collapses what would otherwise be two.
type Stream struct {
	Mid string

	mu               sync.Mutex
	components       map[int]*Component
	checklist        *CheckList
	remoteCandidates []Candidate

	remoteUfrag string
	remotePwd   string
}

func newStream(mid string, isControlling func() bool) *Stream {
	return &Stream{
		Mid:        mid,
		components: make(map[int]*Component),
		checklist:  newCheckList(isControlling),
	}
}

func (s *Stream) component(id int) *Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.components[id]
	if !ok {
		c = newComponent(id)
		s.components[id] = c
	}
	return c
}

// ComponentData returns the channel of application datagrams received on
// component, creating it if a harvester hasn't yet.
func (s *Stream) ComponentData(component int) <-chan DataPacket {
	return s.component(component).Data()
}

func (s *Stream) componentIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.components))
	for id := range s.components {
		ids = append(ids, id)
	}
	return ids
}

func (s *Stream) setRemoteCredentials(ufrag, pwd string) {
	s.mu.Lock()
	s.remoteUfrag, s.remotePwd = ufrag, pwd
	s.mu.Unlock()
}

func (s *Stream) addRemoteCandidate(c Candidate) {
	comp := s.component(c.Component)
	s.mu.Lock()
	s.remoteCandidates = append(s.remoteCandidates, c)
	s.mu.Unlock()
	s.checklist.AddPairs(comp.LocalCandidates(), []Candidate{c})
}

func (s *Stream) addLocalCandidate(c Candidate) {
	s.checklist.AddPairs([]Candidate{c}, s.remotesForComponent(c.Component))
}

func (s *Stream) remotesForComponent(component int) []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Candidate
	for _, c := range s.remoteCandidates {
		if c.Component == component {
			out = append(out, c)
		}
	}
	return out
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.components {
		c.close()
	}
}
