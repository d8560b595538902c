package ice

import (
	"bufio"
	"fmt"
	"net"
	"strings"
)

// EncodeCandidateSDP renders c as an a=candidate SDP attribute line (RFC
// 8839 §5.1), e.g.
//
//	candidate:JUAMPAB6 1 udp 2130706431 192.0.2.1 54321 typ host
func EncodeCandidateSDP(c Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "candidate:%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, c.Address.Protocol, c.Priority, c.Address.IP, c.Address.Port, c.Type)
	if c.Type != TypeHost {
		fmt.Fprintf(&b, " raddr %s rport %d", c.RelatedAddress, c.RelatedPort)
	}
	return b.String()
}

// ParseCandidateSDP parses an a=candidate line into a remote Candidate.
// The returned candidate has no Socket; it is only usable as a remote
// candidate passed to Agent.AddRemoteCandidate.
func ParseCandidateSDP(line string) (Candidate, error) {
	var c Candidate
	var foundation, protocol, ip, typ string
	var component, priority, port int

	r := strings.NewReader(line)
	n, err := fmt.Fscanf(r, "candidate:%s %d %s %d %s %d typ %s",
		&foundation, &component, &protocol, &priority, &ip, &port, &typ)
	if err != nil || n != 7 {
		return c, fmt.Errorf("ice: malformed candidate line %q: %w", line, err)
	}
	if component < 1 || component > 256 {
		return c, fmt.Errorf("ice: component %d out of range", component)
	}

	proto := UDP
	if strings.EqualFold(protocol, "tcp") {
		proto = TCP
	}
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return c, fmt.Errorf("ice: invalid candidate address %q", ip)
	}
	family := 6
	if parsedIP.To4() != nil {
		family = 4
	}
	addr := TransportAddress{Protocol: proto, IP: ip, Port: port, Family: family, LinkLocal: parsedIP.IsLinkLocalUnicast()}

	c = Candidate{
		Component:  component,
		Foundation: foundation,
		Priority:   uint32(priority),
		Address:    addr,
		Base:       addr,
		Type:       CandidateType(typ),
	}

	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	var name string
	for scanner.Scan() {
		if name == "" {
			name = scanner.Text()
			continue
		}
		value := scanner.Text()
		switch name {
		case "raddr":
			c.RelatedAddress = value
		case "rport":
			fmt.Sscanf(value, "%d", &c.RelatedPort)
		}
		name = ""
	}

	return c, nil
}
