// Package schema derives the composite checkout field set for a negotiated
// capability set. Each capability contributes named, disjoint optional
// sections; composition is an additive union with conflict detection rather
// than structural inheritance.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/viaschema/ucp-samples/internal/capability"
)

// Well-known capability names.
const (
	CapabilityCheckout    = "checkout"
	CapabilityFulfillment = "fulfillment"
	CapabilityDiscount    = "discount"
)

// Optional checkout sections contributed by capabilities.
const (
	FieldBuyer       = "buyer"
	FieldPayment     = "payment"
	FieldFulfillment = "fulfillment"
	FieldDiscount    = "discount"
)

// Shape classifies the structure a contribution adds to the checkout record.
type Shape string

const (
	// ShapeSection is a nested object section on the checkout.
	ShapeSection Shape = "section"
	// ShapeTotalLine is an additional entry in the totals sequence.
	ShapeTotalLine Shape = "total_line"
)

// Contribution is one optional field a capability adds to the checkout schema.
type Contribution struct {
	Field string
	Shape Shape
}

// ConflictError reports two active capabilities contributing the same field.
type ConflictError struct {
	Field        string
	Capabilities []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schema: capabilities %s both contribute field %q", strings.Join(e.Capabilities, ", "), e.Field)
}

// FieldSet is the composed set of optional fields a checkout record exposes
// for one session. Fields outside the set are omitted from serialized output
// entirely, never null-filled.
type FieldSet struct {
	fields map[string]string
}

// Contains reports whether the field was negotiated for the session.
func (fs FieldSet) Contains(field string) bool {
	_, ok := fs.fields[field]
	return ok
}

// ContributedBy returns the capability that contributed the field.
func (fs FieldSet) ContributedBy(field string) (string, bool) {
	name, ok := fs.fields[field]
	return name, ok
}

// Fields returns the active field names in sorted order.
func (fs FieldSet) Fields() []string {
	names := make([]string, 0, len(fs.fields))
	for f := range fs.fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}

// Composer maps capability names to their schema contributions.
type Composer struct {
	contributions map[string][]Contribution
}

// NewComposer constructs a Composer seeded with the well-known capabilities.
func NewComposer() *Composer {
	return &Composer{
		contributions: map[string][]Contribution{
			CapabilityCheckout: {
				{Field: FieldBuyer, Shape: ShapeSection},
				{Field: FieldPayment, Shape: ShapeSection},
			},
			CapabilityFulfillment: {
				{Field: FieldFulfillment, Shape: ShapeSection},
			},
			CapabilityDiscount: {
				{Field: FieldDiscount, Shape: ShapeTotalLine},
			},
		},
	}
}

// Register adds contributions for a capability name, replacing any previous
// registration. Registration is for setup time, not concurrent use.
func (c *Composer) Register(capabilityName string, contribs ...Contribution) error {
	capabilityName = strings.TrimSpace(capabilityName)
	if capabilityName == "" {
		return errors.New("schema: capability name is required")
	}
	for _, contrib := range contribs {
		if strings.TrimSpace(contrib.Field) == "" {
			return fmt.Errorf("schema: capability %q contribution requires a field name", capabilityName)
		}
	}
	c.contributions[capabilityName] = append([]Contribution(nil), contribs...)
	return nil
}

// Compose unions the contributions of every negotiated capability into a
// FieldSet. Two capabilities contributing the same field is a composition
// failure, surfaced immediately rather than resolved by precedence.
func (c *Composer) Compose(negotiated capability.NegotiatedSet) (FieldSet, error) {
	fields := make(map[string]string)
	for _, negotiatedCap := range negotiated.Capabilities {
		for _, contrib := range c.contributions[negotiatedCap.Name] {
			if owner, ok := fields[contrib.Field]; ok && owner != negotiatedCap.Name {
				return FieldSet{}, &ConflictError{
					Field:        contrib.Field,
					Capabilities: []string{owner, negotiatedCap.Name},
				}
			}
			fields[contrib.Field] = negotiatedCap.Name
		}
	}
	return FieldSet{fields: fields}, nil
}
