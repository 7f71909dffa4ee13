package codec

import (
	"errors"
	"strings"
	"testing"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	long := strings.Repeat("é", 8192)

	w := NewWriter(64)
	w.Version(3)
	w.String("hello")
	w.String("")
	w.String(long)
	w.U64(1<<63 + 7)
	w.U32(42)
	w.OptionalString("secret", true)
	w.OptionalString("", false)
	w.Count(2)
	w.String("a")
	w.String("b")

	r := NewReader(w.Bytes())
	v, ok, err := r.Version()
	if err != nil || !ok || v != 3 {
		t.Fatalf("version: v=%d ok=%v err=%v", v, ok, err)
	}
	for i, want := range []string{"hello", "", long} {
		got, err := r.String()
		if err != nil {
			t.Fatalf("string %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("string %d mismatch (len %d vs %d)", i, len(got), len(want))
		}
	}
	if u, err := r.U64(); err != nil || u != 1<<63+7 {
		t.Fatalf("u64: %d %v", u, err)
	}
	if u, err := r.U32(); err != nil || u != 42 {
		t.Fatalf("u32: %d %v", u, err)
	}
	if s, present, err := r.OptionalString(); err != nil || !present || s != "secret" {
		t.Fatalf("optional present: %q %v %v", s, present, err)
	}
	if _, present, err := r.OptionalString(); err != nil || present {
		t.Fatalf("optional absent: present=%v err=%v", present, err)
	}
	n, err := r.Count()
	if err != nil || n != 2 {
		t.Fatalf("count: %d %v", n, err)
	}
	for i, want := range []string{"a", "b"} {
		if got, err := r.String(); err != nil || got != want {
			t.Fatalf("element %d: %q %v", i, got, err)
		}
	}
	if r.More() {
		t.Fatalf("expected reader exhausted, %d bytes remain", r.Remaining())
	}
}

func TestReader_TruncatedTailDefaults(t *testing.T) {
	// A record written by an older schema ends exactly after the second
	// field; a decoder probing for the newer third field sees More()==false
	// and must not fault.
	w := NewWriter(16)
	w.String("role")
	w.U64(99)

	r := NewReader(w.Bytes())
	if _, err := r.String(); err != nil {
		t.Fatalf("string: %v", err)
	}
	if _, err := r.U64(); err != nil {
		t.Fatalf("u64: %v", err)
	}
	if r.More() {
		t.Fatalf("expected clean boundary")
	}
}

func TestReader_MidFieldTruncationFaults(t *testing.T) {
	w := NewWriter(16)
	w.String("hello world")
	full := w.Bytes()

	for _, cut := range []int{1, 3, 4, 7} {
		r := NewReader(full[:cut])
		_, err := r.String()
		var fault *DecodeFault
		if !errors.As(err, &fault) {
			t.Fatalf("cut %d: expected DecodeFault, got %v", cut, err)
		}
	}
}

func TestReader_VersionSentinelDetection(t *testing.T) {
	w := NewWriter(8)
	w.Version(1)
	r := NewReader(w.Bytes())
	if v, ok, err := r.Version(); err != nil || !ok || v != 1 {
		t.Fatalf("tagged: v=%d ok=%v err=%v", v, ok, err)
	}

	// Legacy stream: starts with a plausible string length, not the sentinel.
	legacy := NewWriter(8)
	legacy.String("old")
	r = NewReader(legacy.Bytes())
	if _, ok, err := r.Version(); err != nil || ok {
		t.Fatalf("legacy stream misread as tagged: ok=%v err=%v", ok, err)
	}
	if got, err := r.String(); err != nil || got != "old" {
		t.Fatalf("legacy position disturbed: %q %v", got, err)
	}

	// Too short to hold a sentinel: legacy, not a fault.
	r = NewReader([]byte{0x01, 0x02})
	if _, ok, err := r.Version(); err != nil || ok {
		t.Fatalf("short stream: ok=%v err=%v", ok, err)
	}
}
