package ice

import (
	"fmt"
	"net"
)

// Protocol identifies the transport protocol a TransportAddress uses.
type Protocol string

const (
	UDP Protocol = "udp"
	TCP Protocol = "tcp"
)

// TransportAddress is a comparable (protocol, IP, port) tuple, usable as a
// map key -- unlike net.Addr, whose concrete types are not comparable
// across net.UDPAddr/net.TCPAddr (spec.md §3).
type TransportAddress struct {
	Protocol  Protocol
	IP        string
	Port      int
	Family    int // 4 or 6
	LinkLocal bool
}

func MakeTransportAddress(addr net.Addr) TransportAddress {
	var ip net.IP
	var port int
	var proto Protocol
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip, port, proto = a.IP, a.Port, UDP
	case *net.TCPAddr:
		ip, port, proto = a.IP, a.Port, TCP
	default:
		panic(fmt.Sprintf("ice: unsupported net.Addr type %T", addr))
	}

	family := 6
	if ip.To4() != nil {
		family = 4
	}
	return TransportAddress{
		Protocol:  proto,
		IP:        ip.String(),
		Port:      port,
		Family:    family,
		LinkLocal: ip.IsLinkLocalUnicast(),
	}
}

func (a TransportAddress) NetAddr() net.Addr {
	switch a.Protocol {
	case TCP:
		return &net.TCPAddr{IP: net.ParseIP(a.IP), Port: a.Port}
	default:
		return &net.UDPAddr{IP: net.ParseIP(a.IP), Port: a.Port}
	}
}

func (a TransportAddress) String() string {
	return fmt.Sprintf("%s:%s", a.Protocol, net.JoinHostPort(a.IP, fmt.Sprint(a.Port)))
}
