package ice

import (
	"sort"
	"sync"
)

// ChecklistState reflects RFC 8445 §6.1.2.1's three-state checklist
// machine.
type ChecklistState int

const (
	ChecklistRunning ChecklistState = iota
	ChecklistCompleted
	ChecklistFailed
)

// CheckList orders and paces connectivity checks for one component set
// (spec.md §4.10: "constructs a CheckList of local x remote candidate
// pairs, orders by priority, prunes redundant pairs, and
// foundations-freezes per RFC 5245").
type CheckList struct {
	mu sync.Mutex

	state ChecklistState

	pairs       []*CandidatePair
	triggered   []*CandidatePair
	valid       []*CandidatePair
	nextToCheck int
	nextPairID  int

	isControlling func() bool
}

func newCheckList(isControlling func() bool) *CheckList {
	return &CheckList{isControlling: isControlling}
}

// AddPairs pairs every local candidate with every compatible remote
// candidate, appends them to the checklist, then re-sorts, re-prunes, and
// unfreezes every pair (RFC 8445 §6.1.2.2-6.1.2.5; the teacher's original
// freeze-by-foundation nuance is intentionally simplified to "unfreeze
// everything just added", matching this spec's scope of one stream).
func (cl *CheckList) AddPairs(locals, remotes []Candidate) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for _, local := range locals {
		for _, remote := range remotes {
			if !canPair(local, remote) {
				continue
			}
			p := newCandidatePair(cl.nextPairID, local, remote)
			cl.nextPairID++
			cl.pairs = append(cl.pairs, p)
		}
	}

	cl.resort()
	for _, p := range cl.pairs {
		if p.State == Frozen {
			p.State = Waiting
		}
	}
}

func canPair(local, remote Candidate) bool {
	return local.Component == remote.Component &&
		local.Address.Protocol == remote.Address.Protocol &&
		local.Address.Family == remote.Address.Family
}

// resort implements RFC 8445 §6.1.2.3-6.1.2.4: sort by descending
// priority, then drop any pair redundant with a higher-priority one,
// preserving pairs with checks already in flight or resolved.
func (cl *CheckList) resort() {
	isControlling := cl.isControlling()
	sort.Slice(cl.pairs, func(i, j int) bool {
		return cl.pairs[i].Priority(isControlling) > cl.pairs[j].Priority(isControlling)
	})

	kept := cl.pairs[:0]
	for i, p := range cl.pairs {
		if p.State == InProgress || p.State == Succeeded || p.State == Failed {
			kept = append(kept, p)
			continue
		}
		redundant := false
		for j := 0; j < i; j++ {
			if isRedundant(p, cl.pairs[j]) {
				redundant = true
				break
			}
		}
		if !redundant {
			kept = append(kept, p)
		}
	}
	cl.pairs = kept
}

// NextPair returns the next pair a pace-maker tick should check: a
// triggered check if any is queued, otherwise the next Waiting pair in
// round-robin order (RFC 8445 §6.1.4.2).
func (cl *CheckList) NextPair() *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if len(cl.triggered) > 0 {
		p := cl.triggered[0]
		cl.triggered = cl.triggered[1:]
		return p
	}

	n := len(cl.pairs)
	for i := 0; i < n; i++ {
		k := (cl.nextToCheck + i) % n
		if cl.pairs[k].State == Waiting {
			cl.nextToCheck = (k + 1) % n
			return cl.pairs[k]
		}
	}
	return nil
}

// TriggerCheck enqueues p for an immediate check, ahead of the regular
// pace-maker schedule (RFC 8445 §7.3.1.4).
func (cl *CheckList) TriggerCheck(p *CandidatePair) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if p.State == Frozen || p.State == Waiting || p.State == Failed {
		p.State = Waiting
		cl.triggered = append(cl.triggered, p)
	}
}

// MarkValid records p as producing a successful connectivity check result
// (RFC 8445 §7.2.5.3.2).
func (cl *CheckList) MarkValid(p *CandidatePair) {
	cl.mu.Lock()
	p.State = Succeeded
	cl.valid = append(cl.valid, p)
	cl.mu.Unlock()
}

// Nominate marks p nominated and, if still frozen, unfreezes it.
func (cl *CheckList) Nominate(p *CandidatePair) {
	cl.mu.Lock()
	if p.State == Frozen {
		p.State = Waiting
	}
	p.Nominated = true
	cl.mu.Unlock()
}

// Selected returns the nominated valid pair for each component once every
// component has one, or nil if the checklist has not converged yet.
func (cl *CheckList) Selected(components []int) map[int]*CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	selected := make(map[int]*CandidatePair)
	for _, p := range cl.valid {
		if p.Nominated {
			if existing, ok := selected[p.Component]; !ok || p.Priority(cl.isControlling()) > existing.Priority(cl.isControlling()) {
				selected[p.Component] = p
			}
		}
	}
	for _, c := range components {
		if _, ok := selected[c]; !ok {
			return nil
		}
	}
	return selected
}

// FindPair returns the pair whose local base and remote address match, if
// one has already been added to the checklist.
func (cl *CheckList) FindPair(localBase, remoteAddr TransportAddress) *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, p := range cl.pairs {
		if p.Local.Base == localBase && p.Remote.Address == remoteAddr {
			return p
		}
	}
	return nil
}

// AddPair inserts a single already-constructed pair (used when adopting a
// peer-reflexive candidate) and re-sorts.
func (cl *CheckList) AddPair(local, remote Candidate) *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	p := newCandidatePair(cl.nextPairID, local, remote)
	cl.nextPairID++
	p.State = Waiting
	cl.pairs = append(cl.pairs, p)
	cl.resort()
	return p
}

// RemotesForComponent returns every distinct remote candidate already
// known for component, so a newly harvested local candidate can be paired
// against all of them.
func (cl *CheckList) RemotesForComponent(component int) []Candidate {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	seen := make(map[TransportAddress]bool)
	var out []Candidate
	for _, p := range cl.pairs {
		if p.Remote.Component == component && !seen[p.Remote.Address] {
			seen[p.Remote.Address] = true
			out = append(out, p.Remote)
		}
	}
	return out
}

// markFailedIfExhausted transitions the checklist to ChecklistFailed, once,
// when every pair has resolved and not every component has a selected pair
// (spec.md §4.11: "Agent... may reach FAILED overall only when every
// CheckList exhausts its pairs").
func (cl *CheckList) markFailedIfExhausted(components []int) {
	cl.mu.Lock()
	alreadyFailed := cl.state == ChecklistFailed
	active := 0
	for _, p := range cl.pairs {
		if p.State == Waiting || p.State == InProgress || p.State == Frozen {
			active++
		}
	}
	cl.mu.Unlock()

	if active > 0 || alreadyFailed {
		return
	}
	if cl.Selected(components) != nil {
		return
	}
	cl.mu.Lock()
	cl.state = ChecklistFailed
	cl.mu.Unlock()
	log.Warn("ice: checklist exhausted without a valid pair: %v", ErrNoValidPair)
}

func (cl *CheckList) activeCount() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	n := 0
	for _, p := range cl.pairs {
		if p.State == Waiting || p.State == InProgress {
			n++
		}
	}
	return n
}
