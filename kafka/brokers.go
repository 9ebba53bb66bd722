package kafka

import (
	"net"
	"strconv"
	"strings"
)

// ParseBrokerAddress normalises a broker address of the form [proto://]host[:port] to host:port, using the default
// Kafka port when none is given. It returns false for addresses which can never reach a broker.
func ParseBrokerAddress(addr string) (string, bool) {
	addr = strings.TrimSpace(addr)
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
	}
	if addr == "" || strings.ContainsAny(addr, " \t/") {
		return "", false
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// no port, or a bare IPv6 address
		host = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
		port = DefaultBrokerPort
	}
	if host == "" || strings.ContainsAny(host, "[]") {
		return "", false
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", false
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return "", false
	}
	return net.JoinHostPort(host, port), true
}

// ValidBrokers returns the normalised form of every usable address in brokers.
func ValidBrokers(brokers []string) []string {
	var valid []string
	for _, b := range brokers {
		if addr, ok := ParseBrokerAddress(b); ok {
			valid = append(valid, addr)
		}
	}
	return valid
}
