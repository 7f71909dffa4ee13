package store

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hollowaylabs/agentkeep/pkg/codec"
)

func TestMessage_RoundTrip(t *testing.T) {
	cases := []Message{
		{Seq: 1, Role: RoleUser, Content: "hello", CreatedAtMS: 1700000000000},
		{Seq: 1 << 40, Role: RoleAssistant, Content: "", CreatedAtMS: 0},
		{Seq: 7, Role: RoleUser, Content: strings.Repeat("é", 8000), CreatedAtMS: 42},
	}
	for i, want := range cases {
		got, err := DecodeMessage(want.Encode())
		if err != nil {
			t.Fatalf("case %d: decode: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("case %d: round trip mismatch: %#v != %#v", i, got, want)
		}
	}
}

func TestMessage_LegacyLayout(t *testing.T) {
	// Original layout: role, content, timestamp. No tag, no seq.
	w := codec.NewWriter(32)
	w.String("assistant")
	w.String("older data")
	w.U64(123456)

	got, err := DecodeMessage(w.Bytes())
	if err != nil {
		t.Fatalf("decode legacy: %v", err)
	}
	if got.Seq != 0 || got.Role != "assistant" || got.Content != "older data" || got.CreatedAtMS != 123456 {
		t.Fatalf("unexpected legacy decode: %#v", got)
	}
}

func TestMessage_MidFieldCorruptionFaults(t *testing.T) {
	full := Message{Seq: 9, Role: RoleUser, Content: "payload", CreatedAtMS: 1}.Encode()
	_, err := DecodeMessage(full[:len(full)-3])
	var fault *codec.DecodeFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected DecodeFault, got %v", err)
	}
}

func TestMemoryState_RoundTrip(t *testing.T) {
	want := MemoryState{
		Identity:          "name=ada|project=keeper",
		Thread:            "debugging the ring buffer",
		Episodes:          "fixed codec; discussed vault",
		Priors:            "n=3|al=40|qr=33|cr=0",
		UpdatedAtMS:       1700000001234,
		LastCompressedSeq: 88,
	}
	got, err := DecodeMemoryState(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch: %#v != %#v", got, want)
	}
}

func TestMemoryState_LegacyNotesLayout(t *testing.T) {
	// Oldest layout: one notes string + exactly 16 trailing bytes. The
	// notes string migrates into the thread tier.
	w := codec.NewWriter(64)
	w.String("running notes about the session")
	w.U64(555)
	w.U64(21)

	got, err := DecodeMemoryState(w.Bytes())
	if err != nil {
		t.Fatalf("decode legacy notes: %v", err)
	}
	want := MemoryState{Thread: "running notes about the session", UpdatedAtMS: 555, LastCompressedSeq: 21}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("legacy notes mismatch: %#v", got)
	}
}

func TestMemoryState_LegacyFourTierLayout(t *testing.T) {
	w := codec.NewWriter(64)
	w.String("k=v")
	w.String("thread text")
	w.String("episodes text")
	w.String("n=1|al=5|qr=0|cr=0")
	w.U64(9)
	w.U64(4)

	got, err := DecodeMemoryState(w.Bytes())
	if err != nil {
		t.Fatalf("decode legacy four-tier: %v", err)
	}
	if got.Identity != "k=v" || got.Thread != "thread text" || got.Episodes != "episodes text" ||
		got.Priors != "n=1|al=5|qr=0|cr=0" || got.UpdatedAtMS != 9 || got.LastCompressedSeq != 4 {
		t.Fatalf("legacy four-tier mismatch: %#v", got)
	}
}

func TestAgentProfile_RoundTrip(t *testing.T) {
	want := DefaultProfile()
	want.AllowedCallers = []string{"ops", "owner"}
	want.Tools = []string{"search"}

	got, err := DecodeAgentProfile(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestAgentProfile_TrailingFieldsDefault(t *testing.T) {
	// Layout that predates the caller allowlist and compress interval; the
	// decoder must default them instead of faulting.
	w := codec.NewWriter(128)
	w.String("persona")
	w.String("prompt")
	w.Count(0)
	w.OptionalString("sk-legacy", true)
	w.String("model-x")
	w.String("https://example.test/v1/chat/completions")
	w.U32(2)
	w.U64(4096)

	got, err := DecodeAgentProfile(w.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.LegacyAPIKey != "sk-legacy" {
		t.Fatalf("expected legacy key surfaced to the migration path, got %q", got.LegacyAPIKey)
	}
	if len(got.AllowedCallers) != 0 {
		t.Fatalf("expected empty allowlist default, got %v", got.AllowedCallers)
	}
	if got.CompressInterval != DefaultCompressInterval {
		t.Fatalf("expected interval default %d, got %d", DefaultCompressInterval, got.CompressInterval)
	}

	// New encodes never carry the credential.
	reencoded, err := DecodeAgentProfile(got.Encode())
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if reencoded.LegacyAPIKey != "" {
		t.Fatalf("credential must not survive re-encoding")
	}
}

func TestMetrics_TrailingFieldsDefault(t *testing.T) {
	w := codec.NewWriter(32)
	w.Version(1)
	w.U64(10)
	w.U64(20)

	got, err := DecodeMetrics(w.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalCalls != 10 || got.TotalMessages != 20 || got.Errors != 0 || got.OracleFailures != 0 {
		t.Fatalf("unexpected metrics: %#v", got)
	}

	want := Metrics{TotalCalls: 1, TotalMessages: 2, Errors: 3, OracleFailures: 4}
	roundTripped, err := DecodeMetrics(want.Encode())
	if err != nil || roundTripped != want {
		t.Fatalf("round trip: %#v %v", roundTripped, err)
	}
}

func TestWebEntry_RoundTrip(t *testing.T) {
	want := WebEntry{URL: "https://example.test/page", Summary: "résumé of the page", CreatedAtMS: 77}
	got, err := DecodeWebEntry(want.Encode())
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip: %#v %v", got, err)
	}
}

func TestTask_RoundTrip(t *testing.T) {
	want := Task{Kind: "compress", Payload: "{}", Caller: "ops", CreatedAtMS: 5}
	got, err := DecodeTask(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got.ID = want.ID
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch: %#v", got)
	}
}
