package ice

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lanikai/goice/internal/metrics"
	"github.com/lanikai/goice/stun"
)

// Role is an Agent's ICE role (RFC 8445 §4). The controlling agent
// nominates the pair that wins; the controlled agent defers to it.
type Role int32

const (
	Controlled Role = iota
	Controlling
)

// SelectionHandler is invoked once per component as soon as its checklist
// converges on a nominated, valid pair.
type SelectionHandler func(mid string, component int, pair *CandidatePair)

// Agent runs ICE connectivity checks for one or more Streams, sharing a
// single local ufrag/password, STUN transaction table, and pace-maker
// (spec.md §4.10). It implements stun.CredentialsAuthority so inbound
// connectivity checks addressed to its ufrag validate against its
// password.
type Agent struct {
	// ID uniquely identifies this agent instance across log lines, since a
	// process may run many concurrent agents (one per peer connection).
	ID uuid.UUID

	role       int32 // Role, accessed atomically
	tieBreaker uint64

	localUfrag    string
	localPassword string

	cm   *stun.CredentialsManager
	txns *stun.ClientTransactionTable

	mu      sync.Mutex
	streams map[string]*Stream
	onSel   SelectionHandler

	closed chan struct{}
}

// NewAgent constructs an Agent in the given starting role, generates a
// fresh local ufrag/password pair, and registers itself with cm so
// validation of inbound checks resolves against its password.
func NewAgent(role Role, cm *stun.CredentialsManager, txns *stun.ClientTransactionTable) *Agent {
	a := &Agent{
		ID:            uuid.New(),
		role:          int32(role),
		tieBreaker:    randUint64(),
		localUfrag:    stun.GenerateCredential(4),
		localPassword: stun.GenerateCredential(22),
		cm:            cm,
		txns:          txns,
		streams:       make(map[string]*Stream),
		closed:        make(chan struct{}),
	}
	cm.Register(a.localUfrag, a)
	return a
}

func randUint64() uint64 {
	var buf [8]byte
	rand.Read(buf[:])
	return binary.BigEndian.Uint64(buf[:])
}

// Key implements stun.CredentialsAuthority.
func (a *Agent) Key(ufrag string) (string, bool) {
	if ufrag != a.localUfrag {
		return "", false
	}
	return a.localPassword, true
}

func (a *Agent) Role() Role { return Role(atomic.LoadInt32(&a.role)) }

func (a *Agent) setRole(r Role) { atomic.StoreInt32(&a.role, int32(r)) }

// LocalCredentials returns the ufrag/password this agent advertises in its
// own SDP.
func (a *Agent) LocalCredentials() (ufrag, password string) {
	return a.localUfrag, a.localPassword
}

// OnSelected registers the callback invoked when a component's checklist
// converges.
func (a *Agent) OnSelected(f SelectionHandler) {
	a.mu.Lock()
	a.onSel = f
	a.mu.Unlock()
}

func (a *Agent) isClosed() bool {
	select {
	case <-a.closed:
		return true
	default:
		return false
	}
}

// AddStream creates (or returns the existing) Stream for mid and starts
// its pace-maker loop. It returns nil if the agent is already closed.
func (a *Agent) AddStream(mid string) *Stream {
	if a.isClosed() {
		log.Warn("ice: AddStream on closed agent: %v", ErrAgentClosed)
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.streams[mid]; ok {
		return s
	}
	s := newStream(mid, func() bool { return a.Role() == Controlling })
	a.streams[mid] = s
	go a.paceMaker(s)
	go a.keepAlive(s)
	return s
}

// SetRemoteCredentials records the remote ufrag/password for mid. They sign
// the connectivity checks this agent sends (USERNAME, and MESSAGE-INTEGRITY
// keyed with the remote password); responses to those checks are not
// verified against them.
func (a *Agent) SetRemoteCredentials(mid, ufrag, password string) {
	if s := a.AddStream(mid); s != nil {
		s.setRemoteCredentials(ufrag, password)
	}
}

// AddRemoteCandidate pairs c against every local candidate already
// harvested for its component (RFC 8445 §5.1.3, trickle ICE).
func (a *Agent) AddRemoteCandidate(mid string, c Candidate) {
	if s := a.AddStream(mid); s != nil {
		s.addRemoteCandidate(c)
	}
}

// AddLocalCandidate registers a freshly harvested local candidate with mid
// and pairs it against every remote candidate already known for its
// component.
func (a *Agent) AddLocalCandidate(mid string, c Candidate) {
	if s := a.AddStream(mid); s != nil {
		s.addLocalCandidate(c)
	}
}

// credentialsFor builds the short-term credentials this agent uses to sign
// a check it sends on stream, or to sign a response to one it received.
func (a *Agent) credentialsFor(s *Stream) *stun.ShortTermCredentials {
	s.mu.Lock()
	remoteUfrag, remotePwd := s.remoteUfrag, s.remotePwd
	s.mu.Unlock()
	return &stun.ShortTermCredentials{
		LocalUfrag:     a.localUfrag,
		LocalPassword:  a.localPassword,
		RemoteUfrag:    remoteUfrag,
		RemotePassword: remotePwd,
	}
}

// paceMaker implements RFC 8445 §6.1.4.2: send one ordinary or triggered
// check per tick for stream's checklist.
func (a *Agent) paceMaker(s *Stream) {
	t := time.NewTicker(PacingInterval)
	defer t.Stop()
	for {
		select {
		case <-a.closed:
			return
		case <-t.C:
			p := s.checklist.NextPair()
			if p == nil {
				s.checklist.markFailedIfExhausted(s.componentIDs())
				continue
			}
			a.sendCheck(s, p)
		}
	}
}

// keepAlive sends a STUN Binding Indication on the nominated pair every 15
// seconds to keep NAT bindings alive (RFC 8445 §11), once one exists.
func (a *Agent) keepAlive(s *Stream) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-a.closed:
			return
		case <-t.C:
			sel := s.checklist.Selected(s.componentIDs())
			for _, p := range sel {
				ind := stun.NewMessage(stun.ClassIndication, stun.MethodBinding)
				p.Local.Socket.Send(ind.Encode(), p.Remote.Address)
			}
		}
	}
}

// sendCheck sends a Binding Request on p, marking it InProgress, and
// arranges for the response (or timeout) to drive the checklist state
// machine (RFC 8445 §7.2).
func (a *Agent) sendCheck(s *Stream, p *CandidatePair) {
	p.State = InProgress

	req := stun.NewMessage(stun.ClassRequest, stun.MethodBinding)
	req.AddPriority(p.Local.PeerPriority())
	creds := a.credentialsFor(s)
	creds.SignRequest(req)

	controlling := a.Role() == Controlling
	if controlling {
		req.SetIceControlling(a.tieBreaker)
		req.AddUseCandidate()
	} else {
		req.SetIceControlled(a.tieBreaker)
	}

	collector := &checkCollector{agent: a, stream: s, pair: p, nominating: controlling}
	sendFn := stun.SendFunc(func(b []byte, dst net.Addr) error {
		return p.Local.Socket.Send(b, MakeTransportAddress(dst))
	})
	a.txns.SendRequest(req, p.Remote.Address.NetAddr(), sendFn, collector)
}

// checkCollector adapts one outstanding connectivity check's outcome into
// checklist state transitions.
type checkCollector struct {
	agent      *Agent
	stream     *Stream
	pair       *CandidatePair
	nominating bool
}

func (c *checkCollector) ProcessResponse(resp *stun.Message, raddr net.Addr) {
	if resp.Class == stun.ClassErrorResponse {
		if ec, ok := resp.GetErrorCode(); ok && ec.Code == 487 {
			log.Info("ice[%s]: role conflict on pair %s, switching role", c.agent.ID, c.pair)
			c.agent.flipRole()
			c.agent.sendCheck(c.stream, c.pair)
			return
		}
		c.pair.State = Failed
		return
	}

	c.stream.checklist.MarkValid(c.pair)
	metrics.CandidatesGathered.WithLabelValues(string(c.pair.Local.Type)).Inc()
	if c.nominating {
		c.stream.checklist.Nominate(c.pair)
	}
	c.agent.checkSelected(c.stream)
}

func (c *checkCollector) ProcessTimeout() {
	c.pair.State = Failed
}
func (c *checkCollector) ProcessUnreachable(err error) {
	c.pair.State = Failed
}
func (c *checkCollector) ProcessCancelled() {
	c.pair.State = Failed
}

func (a *Agent) checkSelected(s *Stream) {
	sel := s.checklist.Selected(s.componentIDs())
	if sel == nil {
		return
	}
	a.mu.Lock()
	handler := a.onSel
	a.mu.Unlock()
	if handler == nil {
		return
	}
	for component, pair := range sel {
		handler(s.Mid, component, pair)
	}
}

// flipRole implements RFC 8445 §7.3.1.1's role-conflict resolution: when a
// peer rejects our check with 487, or we detect a conflicting role on an
// inbound check, we switch role and every checklist must re-sort since the
// pair priority formula is role-dependent.
func (a *Agent) flipRole() {
	if a.Role() == Controlling {
		a.setRole(Controlled)
	} else {
		a.setRole(Controlling)
	}
	a.mu.Lock()
	streams := make([]*Stream, 0, len(a.streams))
	for _, s := range a.streams {
		streams = append(streams, s)
	}
	a.mu.Unlock()
	for _, s := range streams {
		s.checklist.mu.Lock()
		s.checklist.resort()
		s.checklist.mu.Unlock()
	}
}

// HandleStunMessage processes a STUN message received on sh for stream, as
// reported by a Component's readStunLoop. Requests drive RFC 8445 §7.3
// (role-conflict detection, peer-reflexive adoption, triggered checks,
// nomination); indications are discarded. A response that matches an
// outstanding transaction is consumed by the transaction table and reaches
// the ResponseCollector given to SendRequest; any other response that
// readStunLoop passes here is ignored.
func (a *Agent) HandleStunMessage(s *Stream, msg *stun.Message, raddr net.Addr, sh *socketHandle) {
	if msg.Method != stun.MethodBinding {
		return
	}
	switch msg.Class {
	case stun.ClassRequest:
		a.handleBindingRequest(s, msg, raddr, sh)
	case stun.ClassIndication:
		// Keepalive; no-op.
	}
}

func (a *Agent) handleBindingRequest(s *Stream, req *stun.Message, raddr net.Addr, sh *socketHandle) {
	localUfrag, errResp := stun.ValidateRequest(a.cm, req, true)
	if errResp != nil {
		a.respond(sh, raddr, errResp)
		return
	}
	if localUfrag != a.localUfrag {
		return
	}

	if conflict := a.resolveRoleConflict(req); conflict != nil {
		a.respond(sh, raddr, conflict)
		return
	}

	remote := MakeTransportAddress(raddr)
	p := s.checklist.FindPair(sh.candidate.Base, remote)
	if p == nil {
		priority := req.GetPriority()
		prflx := NewPeerReflexiveCandidate(sh.candidate.Component, remote, sh.candidate, priority)
		s.addRemoteCandidate(prflx)
		p = s.checklist.FindPair(sh.candidate.Base, remote)
		if p == nil {
			p = s.checklist.AddPair(sh.candidate, prflx)
		}
	}

	if req.HasUseCandidate() && !p.Nominated {
		s.checklist.Nominate(p)
		s.checklist.MarkValid(p)
		a.checkSelected(s)
	} else {
		s.checklist.TriggerCheck(p)
	}

	creds := a.credentialsFor(s)
	resp := stun.NewMessageWithID(stun.ClassSuccessResponse, stun.MethodBinding, req.TransactionID)
	resp.SetXorMappedAddress(raddr)
	creds.SignResponse(resp)
	a.respond(sh, raddr, resp)
}

// resolveRoleConflict implements RFC 8445 §7.3.1.1's four-way table: both
// sides believe they control, or both believe they are controlled. Returns
// a 487 response if the peer should switch, or nil if this agent switched
// instead (or there was no conflict).
func (a *Agent) resolveRoleConflict(req *stun.Message) *stun.Message {
	if tb, ok := req.GetIceControlling(); ok {
		if a.Role() == Controlling {
			if a.tieBreaker >= tb {
				return roleConflictResponse(req)
			}
			a.flipRole()
		}
	} else if tb, ok := req.GetIceControlled(); ok {
		if a.Role() == Controlled {
			if a.tieBreaker >= tb {
				a.flipRole()
			} else {
				return roleConflictResponse(req)
			}
		}
	}
	return nil
}

func roleConflictResponse(req *stun.Message) *stun.Message {
	resp := stun.NewMessageWithID(stun.ClassErrorResponse, req.Method, req.TransactionID)
	resp.SetErrorCode(stun.ErrorCode{Code: 487, Reason: "Role Conflict"})
	return resp
}

func (a *Agent) respond(sh *socketHandle, raddr net.Addr, msg *stun.Message) {
	if _, err := sh.m.WriteTo(msg.Encode(), raddr); err != nil {
		log.Warn("ice: failed to send response to %s: %v", raddr, err)
	}
}

// Restart implements the NEW ICE-restart feature: the agent adopts a fresh
// local ufrag/password, re-registers with the credentials manager, and
// drops the old registration so in-flight checks signed with the old
// ufrag are rejected. Streams keep their components; the caller is
// expected to re-harvest and re-exchange candidates under the new
// credentials.
func (a *Agent) Restart() (ufrag, password string) {
	old := a.localUfrag
	a.localUfrag = stun.GenerateCredential(4)
	a.localPassword = stun.GenerateCredential(22)
	a.cm.Unregister(old)
	a.cm.Register(a.localUfrag, a)
	return a.localUfrag, a.localPassword
}

// Close stops every pace-maker and keepalive loop and releases every
// Stream's sockets.
func (a *Agent) Close() error {
	select {
	case <-a.closed:
		return errors.New("ice: agent already closed")
	default:
	}
	close(a.closed)
	a.cm.Unregister(a.localUfrag)

	a.mu.Lock()
	streams := a.streams
	a.streams = nil
	a.mu.Unlock()
	for _, s := range streams {
		s.close()
	}
	return nil
}
