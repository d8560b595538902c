package ice

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/goice/stun"
	"github.com/lanikai/goice/turn"
)

// queryStunTimeout bounds how long a srflx query waits for a server
// response.
const queryStunTimeout = 5 * time.Second

// Harvester produces candidates for one Component and reports them through
// take as they're discovered, returning once gathering for that component
// is complete (spec.md §4.8).
type Harvester interface {
	Gather(a *Agent, s *Stream, component int, take func(Candidate)) error
}

// ParallelHarvest runs every harvester concurrently, per spec.md §4.8's
// "gather all candidate types in parallel, not one type at a time"; each
// harvester gathers the components of s one after another. A harvester
// that yields zero candidates for a component is not run for later
// components (the disable-after-zero rule): a STUN or TURN server that is
// unreachable once is assumed unreachable for the rest of the session.
func ParallelHarvest(a *Agent, s *Stream, components []int, harvesters []Harvester, take func(Candidate)) {
	done := make(chan struct{}, len(harvesters))

	for _, h := range harvesters {
		h := h
		go func() {
			defer func() { done <- struct{}{} }()
			for _, component := range components {
				n := 0
				if err := h.Gather(a, s, component, func(c Candidate) {
					n++
					take(c)
				}); err != nil {
					log.Warn("ice: harvester %T failed for component %d: %v", h, component, err)
				}
				if n == 0 {
					return
				}
			}
		}()
	}

	for i := 0; i < len(harvesters); i++ {
		<-done
	}
}

// HostHarvester binds one UDP socket per non-loopback, up interface
// address and reports its host candidate.
type HostHarvester struct {
	Cfg HarvesterConfig
}

func (h *HostHarvester) Gather(a *Agent, s *Stream, component int, take func(Candidate)) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return err
	}
	comp := s.component(component)

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if !interfaceAllowed(iface.Name, h.Cfg.AllowInterfaces, h.Cfg.BlockInterfaces) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP
			if ip.To4() == nil && !h.Cfg.EnableIPv6 {
				continue
			}
			pc, err := bindUDP(ip, h.Cfg)
			if err != nil {
				log.Debug("ice: failed to bind host socket on %s: %v", ip, err)
				continue
			}
			sh := comp.addSocket(pc, a.txns, func(msg *stun.Message, raddr net.Addr, sh *socketHandle) {
				a.HandleStunMessage(s, msg, raddr, sh)
			})
			cand := sh.candidate
			s.addLocalCandidate(cand)
			take(cand)
		}
	}
	return nil
}

func interfaceAllowed(name string, allow, block []string) bool {
	for _, b := range block {
		if b == name {
			return false
		}
	}
	if len(allow) == 0 {
		return true
	}
	for _, al := range allow {
		if al == name {
			return true
		}
	}
	return false
}

func listenConfigWithControl(control func(network, address string, c syscall.RawConn) error) net.ListenConfig {
	return net.ListenConfig{Control: control}
}

func bindUDP(ip net.IP, cfg HarvesterConfig) (net.PacketConn, error) {
	ctx := context.Background()
	if cfg.MinPort == 0 && cfg.MaxPort == 0 {
		return udpListenConfig.ListenPacket(ctx, "udp", (&net.UDPAddr{IP: ip, Port: cfg.PreferredPort}).String())
	}
	retries := cfg.BindRetries
	if retries <= 0 {
		retries = 1
	}
	lo, hi := cfg.MinPort, cfg.MaxPort
	if hi < lo {
		hi = lo
	}
	span := hi - lo + 1
	for i := 0; i < retries*span; i++ {
		port := lo + i%span
		pc, err := udpListenConfig.ListenPacket(ctx, "udp", (&net.UDPAddr{IP: ip, Port: port}).String())
		if err == nil {
			return pc, nil
		}
	}
	return nil, fmt.Errorf("%w: no free port in [%d,%d] on %s", ErrBind, lo, hi, ip)
}

// StunHarvester queries a STUN server from each of the component's
// existing host sockets to learn a server-reflexive candidate (spec.md
// §4.8).
type StunHarvester struct {
	ServerAddr string
}

func (h *StunHarvester) Gather(a *Agent, s *Stream, component int, take func(Candidate)) error {
	comp := s.component(component)
	serverAddr, err := net.ResolveUDPAddr("udp", h.ServerAddr)
	if err != nil {
		return errors.Wrapf(err, "ice: resolve STUN server %q", h.ServerAddr)
	}

	for _, sh := range comp.sockets {
		base := sh.candidate
		if base.Type != TypeHost || base.Address.Family != serverFamily(serverAddr) {
			continue
		}
		mapped, err := queryMappedAddress(a.txns, sh, serverAddr)
		if err != nil {
			log.Debug("ice: srflx query via %s failed: %v", base.Address, err)
			continue
		}
		if mapped == base.Address {
			continue
		}
		cand := NewServerReflexiveCandidate(mapped, base, h.ServerAddr)
		s.addLocalCandidate(cand)
		take(cand)
	}
	return nil
}

func serverFamily(addr *net.UDPAddr) int {
	if addr.IP.To4() != nil {
		return 4
	}
	return 6
}

func queryMappedAddress(txns *stun.ClientTransactionTable, sh *socketHandle, serverAddr net.Addr) (TransportAddress, error) {
	req := stun.NewMessage(stun.ClassRequest, stun.MethodBinding)
	ch := make(chan struct {
		mapped TransportAddress
		err    error
	}, 1)

	collector := &stunQueryCollector{ch: ch}
	sendFn := stun.SendFunc(func(b []byte, dst net.Addr) error {
		_, err := sh.m.WriteTo(b, dst)
		return err
	})
	txns.SendRequest(req, serverAddr, sendFn, collector)

	select {
	case r := <-ch:
		return r.mapped, r.err
	case <-time.After(queryStunTimeout):
		return TransportAddress{}, stun.ErrTransactionTimeout
	}
}

type stunQueryCollector struct {
	ch chan struct {
		mapped TransportAddress
		err    error
	}
}

func (c *stunQueryCollector) ProcessResponse(resp *stun.Message, raddr net.Addr) {
	ip, port, err := resp.GetMappedAddress()
	if err != nil {
		c.ch <- struct {
			mapped TransportAddress
			err    error
		}{err: err}
		return
	}
	c.ch <- struct {
		mapped TransportAddress
		err    error
	}{mapped: MakeTransportAddress(&net.UDPAddr{IP: ip, Port: port})}
}
func (c *stunQueryCollector) ProcessTimeout() {
	c.ch <- struct {
		mapped TransportAddress
		err    error
	}{err: stun.ErrTransactionTimeout}
}
func (c *stunQueryCollector) ProcessUnreachable(err error) {
	c.ch <- struct {
		mapped TransportAddress
		err    error
	}{err: err}
}
func (c *stunQueryCollector) ProcessCancelled() {
	c.ch <- struct {
		mapped TransportAddress
		err    error
	}{err: stun.ErrTransactionCancelled}
}

// TurnHarvester allocates a TURN relay and reports its relayed candidate
// (spec.md §4.8, §4.9).
type TurnHarvester struct {
	ServerAddr string
	Username   string
	Password   string
}

func (h *TurnHarvester) Gather(a *Agent, s *Stream, component int, take func(Candidate)) error {
	serverAddr, err := net.ResolveUDPAddr("udp", h.ServerAddr)
	if err != nil {
		return errors.Wrapf(err, "ice: resolve TURN server %q", h.ServerAddr)
	}

	// TURN needs its own socket: relayed traffic must not be fed through
	// the component's STUN-filtering Mux, since Data Indications arrive
	// wrapped in STUN framing that the Allocation itself must decode.
	pc, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return err
	}

	cfg := turn.DefaultAllocationConfig(serverAddr, h.Username, h.Password)
	sendFn := stun.SendFunc(func(b []byte, dst net.Addr) error {
		_, err := pc.WriteTo(b, dst)
		return err
	})
	alloc := turn.NewAllocation(cfg, serverAddr, sendFn, a.txns)

	go turnReadLoop(pc, alloc, a.txns)

	if err := alloc.Allocate(); err != nil {
		pc.Close()
		return errors.Wrapf(err, "ice: TURN allocate on %s", h.ServerAddr)
	}

	relayed := MakeTransportAddress(alloc.RelayedAddr())
	cand := NewRelayedCandidate(component, relayed, h.ServerAddr, &relayedSocket{alloc.Conn()})
	s.addLocalCandidate(cand)
	take(cand)

	comp := s.component(component)
	go relayedDataLoop(comp, alloc.Conn())
	return nil
}

// relayedDataLoop forwards everything the relay delivers as application
// data. Connectivity checks arriving over a relayed candidate (RFC 8445
// §5.3, a peer sending its check to our relayed address) are out of scope:
// doing so would require decoding Data Indication payloads as STUN and
// routing them through Agent.HandleStunMessage the same way a host
// socket's Mux does, which relayedSocket does not wire up.
func relayedDataLoop(comp *Component, conn *turn.RelayedConn) {
	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case comp.data <- DataPacket{Bytes: cp, RemoteAddr: peer}:
		default:
			log.Warn("ice: component %d relayed data queue full, dropping %d bytes from %s", comp.ID, n, peer)
		}
	}
}

// relayedSocket adapts turn.RelayedConn's net.PacketConn-shaped WriteTo
// onto the checklist's CandidateSocket interface.
type relayedSocket struct {
	conn *turn.RelayedConn
}

func (r *relayedSocket) Send(b []byte, destination TransportAddress) error {
	_, err := r.conn.WriteTo(b, destination.NetAddr())
	return err
}

func turnReadLoop(pc net.PacketConn, alloc *turn.Allocation, txns *stun.ClientTransactionTable) {
	buf := make([]byte, 1500)
	for {
		n, raddr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		msg, err := stun.Decode(buf[:n])
		if err != nil {
			continue
		}
		if msg.Class == stun.ClassIndication && msg.Method == stun.MethodData {
			alloc.HandleDataIndication(msg)
			continue
		}
		txns.HandleResponse(msg, raddr)
	}
}

// StaticMappingHarvester reports a server-reflexive candidate derived from
// a known public IP (e.g. an AWS Elastic IP) instead of a STUN query,
// supplementing the harvesters the distilled candidate-gathering
// specification names.
type StaticMappingHarvester struct {
	Source turn.StaticMappingSource
}

func (h *StaticMappingHarvester) Gather(a *Agent, s *Stream, component int, take func(Candidate)) error {
	comp := s.component(component)
	ip, err := h.Source.PublicIP()
	if err != nil {
		return err
	}
	for _, sh := range comp.sockets {
		base := sh.candidate
		if base.Type != TypeHost {
			continue
		}
		mapped := TransportAddress{
			Protocol: base.Address.Protocol,
			IP:       ip.String(),
			Port:     base.Address.Port,
			Family:   base.Address.Family,
		}
		cand := NewServerReflexiveCandidate(mapped, base, "static")
		s.addLocalCandidate(cand)
		take(cand)
	}
	return nil
}
