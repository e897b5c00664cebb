package smarterid

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewID(t *testing.T) {
	id1 := NewID()
	id2 := NewID()

	if !IsValid(id1) || !IsValid(id2) {
		t.Fatalf("NewID() generated invalid IDs: %s, %s", id1, id2)
	}
	if id1 == id2 {
		t.Error("NewID() generated duplicate IDs")
	}

	u := MustParse(id1)
	if u.Version() != VersionRandom {
		t.Errorf("expected version 4, got %d", u.Version())
	}
}

func TestGoogleInterop(t *testing.T) {
	g := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	u := FromGoogle(g)
	if u != NamespaceDNS {
		t.Errorf("FromGoogle = %s, want %s", u, NamespaceDNS)
	}
	if u.Google() != g {
		t.Errorf("Google() = %s, want %s", u.Google(), g)
	}
	if u.String() != g.String() {
		t.Errorf("string forms differ: %s vs %s", u, g)
	}
}

// TestNameBasedMatchesGoogle cross-checks the hash generators against an
// independent implementation.
func TestNameBasedMatchesGoogle(t *testing.T) {
	names := []string{"", "example", "www.example.com", "日本語", "a/b?c=d"}
	namespaces := []UUID{Nil, NamespaceDNS, NamespaceURL, NamespaceOID, NamespaceX500}

	for _, ns := range namespaces {
		for _, name := range names {
			if got, want := NewV5(ns, name), uuid.NewSHA1(ns.Google(), []byte(name)); got.Google() != want {
				t.Errorf("v5(%s, %q) = %s, google/uuid says %s", ns, name, got, want)
			}
			if got, want := NewV3(ns, name), uuid.NewMD5(ns.Google(), []byte(name)); got.Google() != want {
				t.Errorf("v3(%s, %q) = %s, google/uuid says %s", ns, name, got, want)
			}
		}
	}
}

func TestParseAgreesWithGoogleOnCanonicalInput(t *testing.T) {
	for i := 0; i < 50; i++ {
		g := uuid.New()
		u, err := Parse(g.String())
		if err != nil {
			t.Fatalf("Parse(%s) failed: %v", g, err)
		}
		if u.Google() != g {
			t.Errorf("Parse(%s) = %s", g, u)
		}
		if u.Version() != Version(g.Version()) {
			t.Errorf("version mismatch for %s: %d vs %d", g, u.Version(), g.Version())
		}
	}
}

func BenchmarkNewID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewID()
	}
}
