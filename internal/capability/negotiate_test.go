package capability

import (
	"errors"
	"testing"
)

func profileWith(version string, caps ...Capability) Profile {
	return Profile{ProtocolVersion: version, Capabilities: caps}
}

func TestNegotiateIntersectsByIdentity(t *testing.T) {
	merchant := profileWith("2026-01-01",
		Capability{Name: "checkout", Version: "1.0"},
		Capability{Name: "discount", Version: "1.0"},
		Capability{Name: "fulfillment", Version: "1.0"},
	)
	client := profileWith("2026-01-01",
		Capability{Name: "checkout", Version: "1.0"},
		Capability{Name: "fulfillment", Version: "2.0"},
	)

	set, err := Negotiate(merchant, client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Capabilities) != 1 {
		t.Fatalf("expected one capability, got %v", set.Capabilities)
	}
	if set.Capabilities[0].Name != "checkout" {
		t.Fatalf("expected checkout, got %q", set.Capabilities[0].Name)
	}
	if set.ProtocolVersion != "2026-01-01" {
		t.Fatalf("unexpected protocol version %q", set.ProtocolVersion)
	}
}

func TestNegotiateVersionMatters(t *testing.T) {
	merchant := profileWith("2026-01-01", Capability{Name: "checkout", Version: "1.0"})
	client := profileWith("2026-01-01", Capability{Name: "checkout", Version: "1.1"})

	set, err := Negotiate(merchant, client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Capabilities) != 0 {
		t.Fatalf("expected empty set, got %v", set.Capabilities)
	}
}

func TestNegotiateClientVersionBound(t *testing.T) {
	merchant := profileWith("2026-01-01", Capability{Name: "checkout", Version: "1.0"})
	client := profileWith("2027-01-01", Capability{Name: "checkout", Version: "1.0"})

	_, err := Negotiate(merchant, client)
	var versionErr *VersionIncompatibleError
	if !errors.As(err, &versionErr) {
		t.Fatalf("expected VersionIncompatibleError, got %v", err)
	}
	if versionErr.Client != "2027-01-01" || versionErr.Merchant != "2026-01-01" {
		t.Fatalf("unexpected error payload %+v", versionErr)
	}

	// An older client version is acceptable.
	client.ProtocolVersion = "2025-06-15"
	if _, err := Negotiate(merchant, client); err != nil {
		t.Fatalf("unexpected error for older client: %v", err)
	}
}

func TestNegotiatePrunesOrphanExtensions(t *testing.T) {
	merchant := profileWith("2026-01-01",
		Capability{Name: "checkout", Version: "1.0"},
		Capability{Name: "discount", Version: "1.0", Extends: "checkout"},
		Capability{Name: "loyalty", Version: "1.0", Extends: "discount"},
	)

	t.Run("full chain survives", func(t *testing.T) {
		client := profileWith("2026-01-01",
			Capability{Name: "checkout", Version: "1.0"},
			Capability{Name: "discount", Version: "1.0", Extends: "checkout"},
			Capability{Name: "loyalty", Version: "1.0", Extends: "discount"},
		)
		set, err := Negotiate(merchant, client)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(set.Capabilities) != 3 {
			t.Fatalf("expected full chain, got %v", set.Capabilities)
		}
	})

	t.Run("missing base prunes transitively", func(t *testing.T) {
		client := profileWith("2026-01-01",
			Capability{Name: "checkout", Version: "1.0"},
			Capability{Name: "loyalty", Version: "1.0", Extends: "discount"},
		)
		set, err := Negotiate(merchant, client)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(set.Capabilities) != 1 || set.Capabilities[0].Name != "checkout" {
			t.Fatalf("expected only the chain prefix, got %v", set.Capabilities)
		}
	})

	t.Run("missing root prunes the whole chain", func(t *testing.T) {
		client := profileWith("2026-01-01",
			Capability{Name: "discount", Version: "1.0", Extends: "checkout"},
			Capability{Name: "loyalty", Version: "1.0", Extends: "discount"},
		)
		set, err := Negotiate(merchant, client)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(set.Capabilities) != 0 {
			t.Fatalf("expected empty set, got %v", set.Capabilities)
		}
	})
}

func TestNegotiateOutputOrderIsStable(t *testing.T) {
	caps := []Capability{
		{Name: "fulfillment", Version: "1.0"},
		{Name: "checkout", Version: "2.0"},
		{Name: "checkout", Version: "1.0"},
	}
	merchant := profileWith("2026-01-01", caps...)

	reversed := make([]Capability, len(caps))
	for i, c := range caps {
		reversed[len(caps)-1-i] = c
	}
	client := profileWith("2026-01-01", reversed...)

	set, err := Negotiate(merchant, client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Identity{
		{Name: "checkout", Version: "1.0"},
		{Name: "checkout", Version: "2.0"},
		{Name: "fulfillment", Version: "1.0"},
	}
	if len(set.Capabilities) != len(want) {
		t.Fatalf("unexpected set %v", set.Capabilities)
	}
	for i, id := range want {
		if set.Capabilities[i].Identity() != id {
			t.Fatalf("capabilities[%d] = %+v, want %+v", i, set.Capabilities[i], id)
		}
	}
}

func TestNegotiateMalformedVersions(t *testing.T) {
	good := profileWith("2026-01-01", Capability{Name: "checkout", Version: "1.0"})
	bad := profileWith("not-a-version", Capability{Name: "checkout", Version: "1.0"})

	var malformedErr *MalformedProfileError
	if _, err := Negotiate(bad, good); !errors.As(err, &malformedErr) {
		t.Fatalf("expected MalformedProfileError for merchant, got %v", err)
	}
	if _, err := Negotiate(good, bad); !errors.As(err, &malformedErr) {
		t.Fatalf("expected MalformedProfileError for client, got %v", err)
	}
}

func TestNegotiatedSetLookups(t *testing.T) {
	set := NegotiatedSet{
		ProtocolVersion: "2026-01-01",
		Capabilities: []Capability{
			{Name: "checkout", Version: "1.0"},
			{Name: "discount", Version: "1.0"},
		},
	}
	if !set.Contains("checkout") || set.Contains("fulfillment") {
		t.Fatal("unexpected Contains results")
	}
	c, ok := set.Find("discount")
	if !ok || c.Version != "1.0" {
		t.Fatalf("unexpected Find result %+v %v", c, ok)
	}
	names := set.Names()
	if len(names) != 2 || names[0] != "checkout" || names[1] != "discount" {
		t.Fatalf("unexpected names %v", names)
	}
}
