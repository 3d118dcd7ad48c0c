package capability

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capability is a named, versioned optional feature one party supports.
// A capability declaring Extends is only meaningful when its base capability
// is present in the same set.
type Capability struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Extends string `json:"extends,omitempty"`
}

// Identity is the (name, version) pair that identifies a capability.
type Identity struct {
	Name    string
	Version string
}

// Identity returns the capability's identity pair.
func (c Capability) Identity() Identity {
	return Identity{Name: c.Name, Version: c.Version}
}

// PaymentHandler describes one payment mechanism advertised by a profile.
type PaymentHandler struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Profile is a capability profile document. Client and merchant profiles are
// structurally identical; only their role in negotiation differs.
type Profile struct {
	ProtocolVersion string           `json:"protocol_version"`
	Capabilities    []Capability     `json:"capabilities"`
	PaymentHandlers []PaymentHandler `json:"payment_handlers,omitempty"`
}

// Find returns the first capability with the given name, in profile order.
func (p Profile) Find(name string) (Capability, bool) {
	for _, c := range p.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

// MalformedProfileError reports a profile document that violates the schema.
type MalformedProfileError struct {
	Reason string
}

func (e *MalformedProfileError) Error() string {
	return fmt.Sprintf("capability: malformed profile: %s", e.Reason)
}

// ParseProfile decodes and validates a capability profile document. Missing
// required fields are a hard failure, never a default fill.
func ParseProfile(data []byte) (Profile, error) {
	var raw struct {
		ProtocolVersion *string          `json:"protocol_version"`
		Capabilities    *[]Capability    `json:"capabilities"`
		PaymentHandlers []PaymentHandler `json:"payment_handlers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Profile{}, &MalformedProfileError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if raw.ProtocolVersion == nil || strings.TrimSpace(*raw.ProtocolVersion) == "" {
		return Profile{}, &MalformedProfileError{Reason: "protocol_version is required"}
	}
	if _, err := parseVersion(*raw.ProtocolVersion); err != nil {
		return Profile{}, &MalformedProfileError{Reason: fmt.Sprintf("protocol_version %q is not a numeric version", *raw.ProtocolVersion)}
	}
	if raw.Capabilities == nil {
		return Profile{}, &MalformedProfileError{Reason: "capabilities is required"}
	}

	profile := Profile{
		ProtocolVersion: strings.TrimSpace(*raw.ProtocolVersion),
		Capabilities:    make([]Capability, 0, len(*raw.Capabilities)),
	}

	seen := make(map[Identity]struct{}, len(*raw.Capabilities))
	for i, c := range *raw.Capabilities {
		c.Name = strings.TrimSpace(c.Name)
		c.Version = strings.TrimSpace(c.Version)
		c.Extends = strings.TrimSpace(c.Extends)
		if c.Name == "" {
			return Profile{}, &MalformedProfileError{Reason: fmt.Sprintf("capabilities[%d]: name is required", i)}
		}
		if c.Version == "" {
			return Profile{}, &MalformedProfileError{Reason: fmt.Sprintf("capabilities[%d]: version is required", i)}
		}
		if c.Extends == c.Name {
			return Profile{}, &MalformedProfileError{Reason: fmt.Sprintf("capability %q extends itself", c.Name)}
		}
		if _, dup := seen[c.Identity()]; dup {
			return Profile{}, &MalformedProfileError{Reason: fmt.Sprintf("duplicate capability %s@%s", c.Name, c.Version)}
		}
		seen[c.Identity()] = struct{}{}
		profile.Capabilities = append(profile.Capabilities, c)
	}

	for i, h := range raw.PaymentHandlers {
		h.ID = strings.TrimSpace(h.ID)
		h.Name = strings.TrimSpace(h.Name)
		if h.ID == "" {
			return Profile{}, &MalformedProfileError{Reason: fmt.Sprintf("payment_handlers[%d]: id is required", i)}
		}
		profile.PaymentHandlers = append(profile.PaymentHandlers, h)
	}

	return profile, nil
}
