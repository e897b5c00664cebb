package smarterid

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func TestNameBasedVectors(t *testing.T) {
	tests := []struct {
		name      string
		version   Version
		namespace UUID
		input     string
		want      string
	}{
		{"v5 nil example", VersionSHA1, Nil, "example", "feb54431-301b-52bb-a6dd-e1e93e81bb9e"},
		{"v3 nil example", VersionMD5, Nil, "example", "0b409040-ac26-3ed8-b9d1-65c3178749d1"},
		{"v3 dns", VersionMD5, NamespaceDNS, "www.example.com", "5df41881-3aed-3515-88a7-2f4a814cf09e"},
		{"v5 dns", VersionSHA1, NamespaceDNS, "www.example.com", "2ed6657d-e927-568b-95e1-2665a8aea6a2"},
		{"v5 url", VersionSHA1, NamespaceURL, "https://example.com/", "dd2c1780-811a-5296-81c5-178a0ef488bc"},
		{"v3 oid", VersionMD5, NamespaceOID, "1.3.6.1", "dd1a1cef-13d5-368a-ad82-eca71acd4cd1"},
		{"v5 x500", VersionSHA1, NamespaceX500, "cn=John Doe", "6b28d549-d26e-5bfc-ae5e-9a39af63dc3f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got UUID
			if tt.version == VersionMD5 {
				got = NewMD5(tt.namespace, []byte(tt.input))
			} else {
				got = NewSHA1(tt.namespace, []byte(tt.input))
			}
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if got.Version() != tt.version {
				t.Errorf("Version = %d, want %d", got.Version(), tt.version)
			}
			if got.Variant() != VariantRFC4122 {
				t.Errorf("Variant = %s", got.Variant())
			}
		})
	}
}

func TestNameBasedDeterminism(t *testing.T) {
	name := []byte("repeatable")
	if NewSHA1(NamespaceURL, name) != NewSHA1(NamespaceURL, name) {
		t.Error("v5 is not deterministic")
	}
	if NewMD5(NamespaceURL, name) != NewMD5(NamespaceURL, name) {
		t.Error("v3 is not deterministic")
	}
	if NewMD5(NamespaceURL, name) == NewSHA1(NamespaceURL, name) {
		t.Error("v3 and v5 of the same input must differ")
	}
	if NewSHA1(NamespaceURL, name) == NewSHA1(NamespaceDNS, name) {
		t.Error("different namespaces must give different UUIDs")
	}
}

func TestNewTimeBased(t *testing.T) {
	node := Node{0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}

	u := NewTimeBased(0x0def9abc12345678, 0x1234, node)
	if u.String() != "12345678-9abc-1def-9234-0a0b0c0d0e0f" {
		t.Errorf("got %s", u)
	}
	if u.Timestamp() != 0x0def9abc12345678 {
		t.Errorf("Timestamp = %#x", uint64(u.Timestamp()))
	}
	if u.ClockSequence() != 0x1234 {
		t.Errorf("ClockSequence = %#x", u.ClockSequence())
	}
	if u.Node() != node {
		t.Errorf("Node = %s", u.Node())
	}

	// Bits above 60 and 14 are discarded.
	wide := NewTimeBased(0xf000000000000001, 0xc001, node)
	if wide.Timestamp() != 1 || wide.ClockSequence() != 1 {
		t.Errorf("overflow leaked: ts=%#x seq=%#x", uint64(wide.Timestamp()), wide.ClockSequence())
	}
	if wide.Version() != VersionTimeBased || wide.Variant() != VariantRFC4122 {
		t.Errorf("bad version/variant on %s", wide)
	}
}

func TestTimeBasedDistinctness(t *testing.T) {
	node := Node{1, 2, 3, 4, 5, 6}
	a := NewTimeBased(1000, 7, node)
	b := NewTimeBased(1001, 7, node)
	c := NewTimeBased(1000, 8, node)
	if a == b || a == c || b == c {
		t.Errorf("expected distinct values: %s %s %s", a, b, c)
	}
}

func TestNewRandomFrom(t *testing.T) {
	seq := make([]byte, 16)
	for i := range seq {
		seq[i] = byte(i)
	}
	u, err := NewRandomFrom(bytes.NewReader(seq))
	if err != nil {
		t.Fatalf("NewRandomFrom failed: %v", err)
	}
	if u.String() != "00010203-0405-4607-8809-0a0b0c0d0e0f" {
		t.Errorf("got %s", u)
	}

	ones, err := NewRandomFrom(bytes.NewReader(bytes.Repeat([]byte{0xff}, 16)))
	if err != nil {
		t.Fatalf("NewRandomFrom failed: %v", err)
	}
	if ones.String() != "ffffffff-ffff-4fff-bfff-ffffffffffff" {
		t.Errorf("got %s", ones)
	}
}

func TestNewRandomFromConsumesExactly16Bytes(t *testing.T) {
	r := bytes.NewReader(make([]byte, 40))
	if _, err := NewRandomFrom(r); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 24 {
		t.Errorf("consumed %d bytes, want 16", 40-r.Len())
	}
}

func TestNewRandomFromFailures(t *testing.T) {
	tests := []struct {
		name string
		r    io.Reader
	}{
		{"nil reader", nil},
		{"short read", bytes.NewReader(make([]byte, 15))},
		{"reader error", iotest.ErrReader(errors.New("device gone"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewRandomFrom(tt.r)
			if !errors.Is(err, ErrEntropyUnavailable) {
				t.Fatalf("expected ErrEntropyUnavailable, got %v", err)
			}
			if u != Nil {
				t.Errorf("failure returned non-nil UUID %s", u)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	var raw [16]byte
	for _, v := range []Version{VersionTimeBased, VersionMD5, VersionRandom, VersionSHA1} {
		u, err := Build(v, raw)
		if err != nil {
			t.Fatalf("Build(%d) failed: %v", v, err)
		}
		if u.Version() != v || u.Variant() != VariantRFC4122 {
			t.Errorf("Build(%d) = %s", v, u)
		}
		if err := u.Validate(); err != nil {
			t.Errorf("Build(%d) not conformant: %v", v, err)
		}
	}

	for _, v := range []Version{0, 2, 6, 7, 8, 15} {
		if _, err := Build(v, raw); !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("Build(%d) error = %v, want ErrUnsupportedVersion", v, err)
		}
	}
}

func TestGeneratedValuesConform(t *testing.T) {
	for i := 0; i < 200; i++ {
		u := MustNewV4()
		if u.Version() != VersionRandom || u.Variant() != VariantRFC4122 {
			t.Fatalf("non-conformant v4 %s", u)
		}
	}
}

func BenchmarkNewSHA1(b *testing.B) {
	name := []byte("www.example.com")
	for i := 0; i < b.N; i++ {
		NewSHA1(NamespaceDNS, name)
	}
}

func BenchmarkNewV4(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = NewV4()
	}
}
