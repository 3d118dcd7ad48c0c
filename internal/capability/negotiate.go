package capability

import (
	"fmt"
	"sort"
)

// VersionIncompatibleError is returned when the client declares a protocol
// version newer than the merchant supports.
type VersionIncompatibleError struct {
	Client   string
	Merchant string
}

func (e *VersionIncompatibleError) Error() string {
	return fmt.Sprintf("capability: client protocol version %s exceeds merchant version %s", e.Client, e.Merchant)
}

// NegotiatedSet is the mutually supported capability set for one session.
// It is computed once during negotiation and immutable afterward.
type NegotiatedSet struct {
	// ProtocolVersion is the version the session operates under, the
	// client's declared version after the bound check.
	ProtocolVersion string
	// Capabilities is stable-sorted by (name, version).
	Capabilities []Capability
}

// Contains reports whether any version of the named capability was negotiated.
func (s NegotiatedSet) Contains(name string) bool {
	_, ok := s.Find(name)
	return ok
}

// Find returns the negotiated capability with the given name.
func (s NegotiatedSet) Find(name string) (Capability, bool) {
	for _, c := range s.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

// Names returns the negotiated capability names in sorted order.
func (s NegotiatedSet) Names() []string {
	names := make([]string, 0, len(s.Capabilities))
	for _, c := range s.Capabilities {
		names = append(names, c.Name)
	}
	return names
}

// Negotiate computes the intersection of merchant-offered and client-requested
// capabilities. The result is a pure, order-independent function of the two
// input sets: identities present in both profiles survive, capabilities whose
// extends target is missing are pruned transitively, and the output is
// stable-sorted by (name, version).
func Negotiate(merchant, client Profile) (NegotiatedSet, error) {
	merchantVersion, err := parseVersion(merchant.ProtocolVersion)
	if err != nil {
		return NegotiatedSet{}, &MalformedProfileError{Reason: fmt.Sprintf("merchant protocol_version %q: %v", merchant.ProtocolVersion, err)}
	}
	clientVersion, err := parseVersion(client.ProtocolVersion)
	if err != nil {
		return NegotiatedSet{}, &MalformedProfileError{Reason: fmt.Sprintf("client protocol_version %q: %v", client.ProtocolVersion, err)}
	}
	if compareVersions(clientVersion, merchantVersion) > 0 {
		return NegotiatedSet{}, &VersionIncompatibleError{Client: client.ProtocolVersion, Merchant: merchant.ProtocolVersion}
	}

	requested := make(map[Identity]struct{}, len(client.Capabilities))
	for _, c := range client.Capabilities {
		requested[c.Identity()] = struct{}{}
	}

	// The merchant's declaration is authoritative for extends relationships.
	intersection := make([]Capability, 0, len(merchant.Capabilities))
	for _, c := range merchant.Capabilities {
		if _, ok := requested[c.Identity()]; ok {
			intersection = append(intersection, c)
		}
	}

	// Prune to a fixpoint so that extension chains collapse to their longest
	// valid prefix when an intermediate base is missing.
	for {
		present := make(map[string]struct{}, len(intersection))
		for _, c := range intersection {
			present[c.Name] = struct{}{}
		}
		kept := intersection[:0]
		pruned := false
		for _, c := range intersection {
			if c.Extends != "" {
				if _, ok := present[c.Extends]; !ok {
					pruned = true
					continue
				}
			}
			kept = append(kept, c)
		}
		intersection = kept
		if !pruned {
			break
		}
	}

	sort.SliceStable(intersection, func(i, j int) bool {
		if intersection[i].Name != intersection[j].Name {
			return intersection[i].Name < intersection[j].Name
		}
		return intersection[i].Version < intersection[j].Version
	})

	return NegotiatedSet{
		ProtocolVersion: client.ProtocolVersion,
		Capabilities:    intersection,
	}, nil
}
