package scylla

import (
	"fmt"
	"net"
	"regexp"
)

func parseIP(s string) net.IP {
	if ip := net.ParseIP(s); ip != nil {
		return ip
	}
	return net.IPv4zero
}

// identifierPattern limits dynamic table/column names from the personal-data
// catalog to plain identifiers. The catalog is operator-seeded, but names
// still end up interpolated into CQL.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier: %q", name)
	}
	return nil
}
