package models

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Default target values used when neither flags, query parameters nor the
// environment provide one.
const (
	DefaultServer  = "imap.gmail.com"
	DefaultPort    = 993
	DefaultTimeout = 30 * time.Second
)

// ProbeTarget identifies the endpoint a single diagnostic run is aimed at.
type ProbeTarget struct {
	Host    string        `json:"host"`
	Port    int           `json:"port"`
	Timeout time.Duration `json:"timeout"`
}

// NewTarget returns a ProbeTarget with the default full timeout applied.
func NewTarget(host string, port int) ProbeTarget {
	return ProbeTarget{Host: host, Port: port, Timeout: DefaultTimeout}
}

// Address returns the target in host:port form.
func (t ProbeTarget) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String renders the target the way the transcript shows it.
func (t ProbeTarget) String() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Validate checks host and port. A zero timeout is allowed and means
// DefaultTimeout.
func (t ProbeTarget) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return fmt.Errorf("hostname cannot be empty")
	}
	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", t.Port)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}

// EffectiveTimeout returns the full timeout, falling back to DefaultTimeout.
func (t ProbeTarget) EffectiveTimeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTimeout
	}
	return t.Timeout
}

// ResolvedAddress is one address returned by DNS, in resolution order.
type ResolvedAddress struct {
	IP     net.IP        `json:"ip"`
	Family AddressFamily `json:"family"`
}

// NewResolvedAddress classifies ip and wraps it.
func NewResolvedAddress(ip net.IP) ResolvedAddress {
	return ResolvedAddress{IP: ip, Family: FamilyOf(ip)}
}

func (a ResolvedAddress) String() string {
	return a.IP.String()
}

// FamilyOf reports the address family of ip.
func FamilyOf(ip net.IP) AddressFamily {
	switch {
	case ip == nil:
		return FamilyOther
	case ip.To4() != nil:
		return FamilyIPv4
	case len(ip) == net.IPv6len:
		return FamilyIPv6
	default:
		return FamilyOther
	}
}

// AddressProbeResult is the outcome of the short-timeout connect to one
// resolved address.
type AddressProbeResult struct {
	Address       ResolvedAddress `json:"address"`
	Outcome       ReachOutcome    `json:"outcome"`
	ElapsedMillis int64           `json:"elapsed_ms"`
	Error         string          `json:"error,omitempty"`
}

// CertificateInfo is the metadata recorded for the peer leaf certificate.
// PolicyErrors lists validation defects that were detected but not enforced.
type CertificateInfo struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number,omitempty"`
	DNSNames     []string  `json:"dns_names,omitempty"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	PolicyErrors []string  `json:"policy_errors,omitempty"`
}

// TLSSessionInfo describes a completed handshake.
type TLSSessionInfo struct {
	Protocol             string           `json:"protocol"`
	CipherSuite          string           `json:"cipher_suite"`
	CipherAlgorithm      string           `json:"cipher_algorithm"`
	CipherStrength       int              `json:"cipher_strength"`
	HashAlgorithm        string           `json:"hash_algorithm"`
	HashStrength         int              `json:"hash_strength"`
	KeyExchangeAlgorithm string           `json:"key_exchange_algorithm"`
	KeyExchangeStrength  int              `json:"key_exchange_strength"`
	IsAuthenticated      bool             `json:"is_authenticated"`
	IsEncrypted          bool             `json:"is_encrypted"`
	IsSigned             bool             `json:"is_signed"`
	Certificate          *CertificateInfo `json:"certificate,omitempty"`
}

// GreetingResult is what the greeting reader observed.
type GreetingResult struct {
	Status        GreetingStatus `json:"status"`
	Bytes         int            `json:"bytes"`
	Text          string         `json:"text,omitempty"`
	ElapsedMillis int64          `json:"elapsed_ms"`
	Error         string         `json:"error,omitempty"`
}
