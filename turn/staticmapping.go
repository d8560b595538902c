package turn

import (
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// StaticMappingSource resolves a local address's externally-visible IP
// without any STUN/TURN round trip -- used by cloud deployments with a
// known, static 1:1 NAT (spec.md §4.8, "AWS static-mapping harvester ...
// exposed as a generic StaticMappingSource interface so other clouds can
// plug in without touching the core").
type StaticMappingSource interface {
	// PublicIP returns the externally-visible address that maps to a
	// locally-bound address, or an error if this source cannot answer.
	PublicIP() (net.IP, error)
}

// awsMetadataPublicIPURL is the EC2 instance metadata endpoint returning
// the instance's public IPv4 address as plain text.
const awsMetadataPublicIPURL = "http://169.254.169.254/latest/meta-data/public-ipv4"

// AWSMetadataSource implements StaticMappingSource against the EC2
// instance metadata service.
type AWSMetadataSource struct {
	Client *http.Client
}

// NewAWSMetadataSource returns a source using a short-timeout HTTP client,
// since the metadata service is only reachable from within the instance.
func NewAWSMetadataSource() *AWSMetadataSource {
	return &AWSMetadataSource{Client: &http.Client{Timeout: 2 * time.Second}}
}

func (s *AWSMetadataSource) PublicIP() (net.IP, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(awsMetadataPublicIPURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(body))
	ip := net.ParseIP(text)
	if ip == nil {
		return nil, &net.ParseError{Type: "IP address", Text: text}
	}
	return ip, nil
}
