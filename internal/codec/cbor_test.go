package codec_test

import (
	"testing"

	"github.com/BrandonDHaskell/lockgate/internal/codec"
)

func TestLeafRoundTripKeepsType(t *testing.T) {
	cases := []struct {
		name string
		in   any
	}{
		{"string", "1"},
		{"empty string", ""},
		{"true", true},
		{"false", false},
		{"millis", int64(1760000000000)},
		{"negative", int64(-42)},
		{"float", 2.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := codec.EncodeLeaf(tc.in)
			if err != nil {
				t.Fatalf("EncodeLeaf: %v", err)
			}
			got, err := codec.DecodeLeaf(b)
			if err != nil {
				t.Fatalf("DecodeLeaf: %v", err)
			}
			if got != tc.in {
				t.Fatalf("got %#v (%T), want %#v (%T)", got, got, tc.in, tc.in)
			}
		})
	}
}

func TestEncodeLeafRejectsContainers(t *testing.T) {
	for _, v := range []any{map[string]any{"a": "b"}, []string{"x"}, nil, 3} {
		if _, err := codec.EncodeLeaf(v); err == nil {
			t.Errorf("EncodeLeaf(%#v): expected error", v)
		}
	}
}

func TestEncodeLeafIsDeterministic(t *testing.T) {
	a, err := codec.EncodeLeaf("lockers")
	if err != nil {
		t.Fatal(err)
	}
	b, err := codec.EncodeLeaf("lockers")
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("encodings differ: %x vs %x", a, b)
	}
}

func TestDecodeLeafRejectsGarbage(t *testing.T) {
	if _, err := codec.DecodeLeaf([]byte{0xff, 0x00}); err == nil {
		t.Fatal("expected decode error")
	}
}
