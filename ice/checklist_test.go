package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(component int, priority uint32, ip string, port int) Candidate {
	addr := TransportAddress{Protocol: UDP, IP: ip, Port: port, Family: 4}
	return Candidate{Component: component, Priority: priority, Address: addr, Base: addr, Foundation: ip}
}

func TestChecklistSortsByPriorityDescending(t *testing.T) {
	controlling := func() bool { return true }
	cl := newCheckList(controlling)

	locals := []Candidate{
		cand(1, 100, "10.0.0.1", 1000),
		cand(1, 99, "10.0.0.2", 1001),
		cand(1, 101, "10.0.0.3", 1002),
	}
	remote := cand(1, 50, "203.0.113.1", 2000)
	cl.AddPairs(locals, []Candidate{remote})

	require.Len(t, cl.pairs, 3)
	for i := 1; i < len(cl.pairs); i++ {
		assert.GreaterOrEqual(t, cl.pairs[i-1].Priority(true), cl.pairs[i].Priority(true))
	}
}

func TestChecklistPrunesRedundantPairs(t *testing.T) {
	controlling := func() bool { return true }
	cl := newCheckList(controlling)

	base := TransportAddress{Protocol: UDP, IP: "10.0.0.1", Port: 1000, Family: 4}
	host := Candidate{Component: 1, Priority: 100, Address: base, Base: base, Foundation: "host"}
	srflxAddr := TransportAddress{Protocol: UDP, IP: "203.0.113.1", Port: 1000, Family: 4}
	srflx := Candidate{Component: 1, Priority: 90, Address: srflxAddr, Base: base, Foundation: "srflx"}

	remote := cand(1, 50, "198.51.100.1", 3000)
	cl.AddPairs([]Candidate{host, srflx}, []Candidate{remote})

	require.Len(t, cl.pairs, 1, "pairs with the same base and remote must be pruned to the higher-priority one")
	assert.Equal(t, uint32(100), cl.pairs[0].Local.Priority)
}

func TestChecklistPreservesInProgressPairOnResort(t *testing.T) {
	controlling := func() bool { return true }
	cl := newCheckList(controlling)

	base := TransportAddress{Protocol: UDP, IP: "10.0.0.1", Port: 1000, Family: 4}
	host := Candidate{Component: 1, Priority: 100, Address: base, Base: base, Foundation: "host"}
	srflxAddr := TransportAddress{Protocol: UDP, IP: "203.0.113.1", Port: 1000, Family: 4}
	srflx := Candidate{Component: 1, Priority: 90, Address: srflxAddr, Base: base, Foundation: "srflx"}

	remote := cand(1, 50, "198.51.100.1", 3000)
	cl.AddPairs([]Candidate{srflx}, []Candidate{remote})
	cl.pairs[0].State = InProgress
	cl.AddPairs([]Candidate{host}, []Candidate{remote})

	require.Len(t, cl.pairs, 2, "an in-progress pair must survive even if a later add would make it redundant")
}

func TestChecklistSelectedRequiresEveryComponentNominated(t *testing.T) {
	controlling := func() bool { return true }
	cl := newCheckList(controlling)

	local1 := cand(1, 100, "10.0.0.1", 1000)
	remote1 := cand(1, 50, "198.51.100.1", 3000)
	local2 := cand(2, 100, "10.0.0.1", 1001)
	remote2 := cand(2, 50, "198.51.100.1", 3001)
	cl.AddPairs([]Candidate{local1, local2}, []Candidate{remote1, remote2})

	assert.Nil(t, cl.Selected([]int{1, 2}))

	cl.MarkValid(cl.pairs[0])
	cl.Nominate(cl.pairs[0])
	assert.Nil(t, cl.Selected([]int{1, 2}), "component 2 has no nominated pair yet")

	cl.MarkValid(cl.pairs[1])
	cl.Nominate(cl.pairs[1])
	selected := cl.Selected([]int{1, 2})
	require.NotNil(t, selected)
	assert.Len(t, selected, 2)
}

func TestTriggerCheckRequeuesFrozenOrFailedPair(t *testing.T) {
	controlling := func() bool { return true }
	cl := newCheckList(controlling)
	local := cand(1, 100, "10.0.0.1", 1000)
	remote := cand(1, 50, "198.51.100.1", 3000)
	cl.AddPairs([]Candidate{local}, []Candidate{remote})

	p := cl.pairs[0]
	p.State = Failed
	cl.TriggerCheck(p)

	assert.Equal(t, Waiting, p.State)
	next := cl.NextPair()
	assert.Same(t, p, next, "a triggered check takes priority over the round-robin schedule")
}
