package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hollowaylabs/agentkeep/pkg/auth"
	"github.com/hollowaylabs/agentkeep/pkg/codec"
	"github.com/hollowaylabs/agentkeep/pkg/logger"
	"github.com/hollowaylabs/agentkeep/pkg/memory"
	"github.com/hollowaylabs/agentkeep/pkg/store"
	"github.com/hollowaylabs/agentkeep/pkg/vault"
)

const (
	ownerID  = "owner-1"
	callerID = "caller-1"
)

type scriptedOracle struct {
	reply string
	err   error
	key   string
	calls int
}

func (s *scriptedOracle) Complete(context.Context, string, string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func newTestEngine(t *testing.T, oracle *scriptedOracle) (*Engine, *store.Store) {
	t.Helper()
	logger.Silence()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "agentkeep.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	v := vault.New(&vault.SeedFileProvider{Path: filepath.Join(dir, "vault.seed")})
	authz := &auth.Allowlist{Owners: []string{ownerID}, Callers: []string{callerID}}

	factory := func(endpoint, model, apiKey string) (memory.Oracle, error) {
		oracle.key = apiKey
		return oracle, nil
	}
	e, err := New(context.Background(), st, v, authz, Options{OracleFactory: factory})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, st
}

func TestIngestUpdatesPriorsAndMetrics(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedOracle{})
	ctx := context.Background()

	seq, err := e.Ingest(ctx, callerID, store.RoleUser, "hello world")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if seq != 1 {
		t.Fatalf("seq = %d", seq)
	}
	if _, err := e.Ingest(ctx, callerID, store.RoleAssistant, "hi"); err != nil {
		t.Fatalf("ingest assistant: %v", err)
	}

	st, err := e.Memory(ctx, callerID)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if st.Priors != "n=1|al=11|qr=0|cr=0" {
		t.Fatalf("priors = %q, assistant messages must not count", st.Priors)
	}

	m, err := e.Metrics(ctx, callerID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.TotalMessages != 2 || m.TotalCalls != 2 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestAuthorizationGates(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedOracle{})
	ctx := context.Background()

	if _, err := e.Ingest(ctx, "stranger", store.RoleUser, "hi"); !errors.Is(err, auth.ErrAccessDenied) {
		t.Fatalf("stranger ingest: %v", err)
	}
	if err := e.SetSecret(ctx, callerID, "sk-x"); !errors.Is(err, auth.ErrAccessDenied) {
		t.Fatalf("caller must not set secrets: %v", err)
	}
	if _, err := e.ClearHistory(ctx, callerID); !errors.Is(err, auth.ErrAccessDenied) {
		t.Fatalf("caller must not clear history: %v", err)
	}
	if err := e.SetSecret(ctx, ownerID, "sk-x"); err != nil {
		t.Fatalf("owner set secret: %v", err)
	}
}

func TestLegacyCredentialMigratesIntoVault(t *testing.T) {
	logger.Silence()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "agentkeep.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	// Hand-encode an untagged profile from before the vault existed: the
	// credential sits inline and the record ends at the response limit.
	// Encode cannot produce this blob, it always writes the slot absent.
	w := codec.NewWriter(128)
	w.String("agentkeep")
	w.String("You are a concise, helpful assistant. Plain text only.")
	w.Count(0)
	w.OptionalString("sk-legacy", true)
	w.String("openai/gpt-4o-mini")
	w.String("https://openrouter.ai/api/v1/chat/completions")
	w.U32(1)
	w.U64(8192)
	if err := st.SetCell(ctx, store.CellProfile, w.Bytes()); err != nil {
		t.Fatal(err)
	}

	oracle := &scriptedOracle{reply: "T: fine"}
	v := vault.New(&vault.SeedFileProvider{Path: filepath.Join(dir, "vault.seed")})
	authz := &auth.Allowlist{Owners: []string{ownerID}}
	factory := func(_, _, apiKey string) (memory.Oracle, error) {
		oracle.key = apiKey
		return oracle, nil
	}
	e, err := New(ctx, st, v, authz, Options{OracleFactory: factory})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	got, err := e.Profile(ctx, ownerID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LegacyAPIKey != "" {
		t.Fatalf("credential leaked through profile read")
	}
	hasSecret, err := e.HasSecret(ctx, ownerID)
	if err != nil || !hasSecret {
		t.Fatalf("secret not migrated: has=%v err=%v", hasSecret, err)
	}
	blob, err := st.Secret(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(blob), "sk-legacy") {
		t.Fatalf("migrated secret stored in clear")
	}

	// The sealed credential reaches the oracle on compression.
	if _, err := e.Ingest(ctx, ownerID, store.RoleUser, "hi"); err != nil {
		t.Fatal(err)
	}
	if err := e.Compress(ctx, ownerID); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if oracle.key != "sk-legacy" {
		t.Fatalf("oracle received key %q", oracle.key)
	}
}

func TestCompressFoldsTranscriptIntoMemory(t *testing.T) {
	oracle := &scriptedOracle{reply: "I: name=sam\nT: greeting\nE: "}
	e, _ := newTestEngine(t, oracle)
	ctx := context.Background()

	if err := e.SetSecret(ctx, ownerID, "sk-live"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ingest(ctx, callerID, store.RoleUser, "hi i am sam"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ingest(ctx, callerID, store.RoleAssistant, "hello sam"); err != nil {
		t.Fatal(err)
	}
	if err := e.Compress(ctx, ownerID); err != nil {
		t.Fatalf("compress: %v", err)
	}

	st, err := e.Memory(ctx, callerID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Identity != "name=sam" || st.Thread != "greeting" {
		t.Fatalf("memory = %+v", st)
	}
	if st.LastCompressedSeq != 2 {
		t.Fatalf("watermark = %d", st.LastCompressedSeq)
	}
	if oracle.key != "sk-live" {
		t.Fatalf("oracle received key %q", oracle.key)
	}

	// Nothing pending: a second pass must not call the oracle.
	before := oracle.calls
	if err := e.Compress(ctx, ownerID); err != nil {
		t.Fatalf("idle compress: %v", err)
	}
	if oracle.calls != before {
		t.Fatalf("oracle called with empty window")
	}
}

func TestCompressWithoutSecretFails(t *testing.T) {
	oracle := &scriptedOracle{reply: "T: x"}
	e, _ := newTestEngine(t, oracle)
	ctx := context.Background()

	if _, err := e.Ingest(ctx, callerID, store.RoleUser, "hi"); err != nil {
		t.Fatal(err)
	}
	if err := e.Compress(ctx, ownerID); !errors.Is(err, vault.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	m, err := e.Metrics(ctx, ownerID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Errors != 1 {
		t.Fatalf("error counter = %d", m.Errors)
	}
}

func TestClearHistoryRewindsWatermark(t *testing.T) {
	oracle := &scriptedOracle{reply: "T: summary"}
	e, _ := newTestEngine(t, oracle)
	ctx := context.Background()

	if err := e.SetSecret(ctx, ownerID, "sk"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ingest(ctx, callerID, store.RoleUser, "one"); err != nil {
		t.Fatal(err)
	}
	if err := e.Compress(ctx, ownerID); err != nil {
		t.Fatal(err)
	}

	if _, err := e.ClearHistory(ctx, ownerID); err != nil {
		t.Fatal(err)
	}
	st, err := e.Memory(ctx, callerID)
	if err != nil {
		t.Fatal(err)
	}
	if st.LastCompressedSeq != 0 {
		t.Fatalf("watermark = %d after clear", st.LastCompressedSeq)
	}
	if st.Thread != "summary" {
		t.Fatalf("memory must survive a history clear: %+v", st)
	}

	seq, err := e.Ingest(ctx, callerID, store.RoleUser, "fresh start")
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Fatalf("sequence did not restart: %d", seq)
	}
}

func TestClearMemoryKeepsWatermark(t *testing.T) {
	oracle := &scriptedOracle{reply: "T: summary"}
	e, _ := newTestEngine(t, oracle)
	ctx := context.Background()

	if err := e.SetSecret(ctx, ownerID, "sk"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ingest(ctx, callerID, store.RoleUser, "one"); err != nil {
		t.Fatal(err)
	}
	if err := e.Compress(ctx, ownerID); err != nil {
		t.Fatal(err)
	}
	if err := e.ClearMemory(ctx, ownerID); err != nil {
		t.Fatal(err)
	}
	st, err := e.Memory(ctx, callerID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Thread != "" || st.Priors != "" {
		t.Fatalf("tiers not cleared: %+v", st)
	}
	if st.LastCompressedSeq != 1 {
		t.Fatalf("watermark must survive a memory clear: %d", st.LastCompressedSeq)
	}
}

func TestIngestQueuesCompressionAtInterval(t *testing.T) {
	oracle := &scriptedOracle{reply: "T: worked"}
	e, _ := newTestEngine(t, oracle)
	ctx := context.Background()

	profile := store.DefaultProfile()
	profile.CompressInterval = 2
	if err := e.SetProfile(ctx, ownerID, profile); err != nil {
		t.Fatal(err)
	}
	if err := e.SetSecret(ctx, ownerID, "sk"); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Ingest(ctx, callerID, store.RoleUser, "one"); err != nil {
		t.Fatal(err)
	}
	n, err := e.tasks.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("task queued below interval")
	}
	if _, err := e.Ingest(ctx, callerID, store.RoleUser, "two"); err != nil {
		t.Fatal(err)
	}
	if n, err = e.tasks.Len(ctx); err != nil || n != 1 {
		t.Fatalf("expected one queued task, got n=%d err=%v", n, err)
	}

	w := NewWorker(e, "* * * * *", false)
	w.drain(ctx)

	if n, err = e.tasks.Len(ctx); err != nil || n != 0 {
		t.Fatalf("queue not drained: n=%d err=%v", n, err)
	}
	st, err := e.Memory(ctx, callerID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Thread != "worked" || st.LastCompressedSeq != 2 {
		t.Fatalf("drain did not compress: %+v", st)
	}
}

func TestWorkerDropsUnknownTasks(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedOracle{})
	ctx := context.Background()

	if _, err := e.tasks.Enqueue(ctx, "mystery", "", callerID); err != nil {
		t.Fatal(err)
	}
	w := NewWorker(e, "* * * * *", false)
	w.drain(ctx)

	if n, err := e.tasks.Len(ctx); err != nil || n != 0 {
		t.Fatalf("unknown task retained: n=%d err=%v", n, err)
	}
}
