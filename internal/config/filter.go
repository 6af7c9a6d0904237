package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/dissect"
)

// PortRange is an inclusive range of transport ports.
type PortRange struct {
	Lo, Hi uint16
}

// PortSet is a list of port ranges in the order they were written.
type PortSet []PortRange

// ParsePorts parses "80,443,8000-8100". An empty or blank string yields a
// nil set, meaning all ports.
func ParsePorts(s string) (PortSet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var set PortSet
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return nil, fmt.Errorf("%w: empty element in %q", core.ErrInvalidPortRange, s)
		}
		lo, hi, isRange := strings.Cut(tok, "-")
		a, err := parsePort(lo)
		if err != nil {
			return nil, err
		}
		b := a
		if isRange {
			if b, err = parsePort(hi); err != nil {
				return nil, err
			}
			if a > b {
				return nil, fmt.Errorf("%w: reversed range %s", core.ErrInvalidPortRange, tok)
			}
		}
		set = append(set, PortRange{Lo: a, Hi: b})
	}
	return set, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a port", core.ErrInvalidPortRange, s)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: port 0", core.ErrInvalidPortRange)
	}
	return uint16(n), nil
}

// Contains reports whether port falls in any range.
func (p PortSet) Contains(port uint16) bool {
	for _, r := range p {
		if port >= r.Lo && port <= r.Hi {
			return true
		}
	}
	return false
}

// BPF renders the set as a capture filter expression, empty for a nil set.
func (p PortSet) BPF() string {
	terms := make([]string, 0, len(p))
	for _, r := range p {
		if r.Lo == r.Hi {
			terms = append(terms, fmt.Sprintf("port %d", r.Lo))
		} else {
			terms = append(terms, fmt.Sprintf("portrange %d-%d", r.Lo, r.Hi))
		}
	}
	return strings.Join(terms, " or ")
}

func (p PortSet) String() string {
	terms := make([]string, 0, len(p))
	for _, r := range p {
		if r.Lo == r.Hi {
			terms = append(terms, strconv.Itoa(int(r.Lo)))
		} else {
			terms = append(terms, fmt.Sprintf("%d-%d", r.Lo, r.Hi))
		}
	}
	return strings.Join(terms, ",")
}

// FilterConfig restricts which records an observer reports. A nil field
// allows everything on that axis.
type FilterConfig struct {
	Ports     PortSet
	Protocols map[string]struct{} // dissector labels
}

// NewFilterConfig validates raw filter values. Protocol names are matched
// case-insensitively against the dissector's labels.
func NewFilterConfig(ports string, protocols []string) (FilterConfig, error) {
	set, err := ParsePorts(ports)
	if err != nil {
		return FilterConfig{}, err
	}
	f := FilterConfig{Ports: set}

	known := make(map[string]string)
	for _, label := range dissect.Protocols() {
		known[strings.ToLower(label)] = label
	}
	for _, name := range protocols {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		label, ok := known[strings.ToLower(name)]
		if !ok {
			return FilterConfig{}, fmt.Errorf("%w: %s (known: %s)", core.ErrUnknownProtocol, name,
				strings.Join(dissect.Protocols(), ", "))
		}
		if f.Protocols == nil {
			f.Protocols = make(map[string]struct{})
		}
		f.Protocols[label] = struct{}{}
	}
	return f, nil
}

// Allows reports whether rec passes the filter. With a port set, only
// records whose source or destination port is in the set pass, so
// portless records (ARP, ICMP) are excluded.
func (f FilterConfig) Allows(rec core.ProtocolRecord) bool {
	if f.Protocols != nil {
		if _, ok := f.Protocols[rec.Protocol]; !ok {
			return false
		}
	}
	if f.Ports != nil {
		if !rec.HasPorts() {
			return false
		}
		if !f.Ports.Contains(rec.SrcPort) && !f.Ports.Contains(rec.DstPort) {
			return false
		}
	}
	return true
}

// ProtocolNames returns the allowed labels sorted, nil when unrestricted.
func (f FilterConfig) ProtocolNames() []string {
	if f.Protocols == nil {
		return nil
	}
	names := make([]string, 0, len(f.Protocols))
	for p := range f.Protocols {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}
