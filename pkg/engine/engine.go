// Package engine ties the persistent pieces together behind one explicit
// handle. Nothing here is a process-wide singleton: an Engine owns its
// store, transcript, vault, task queue and compressor, and every operation
// is gated by the authorizer before it touches state.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hollowaylabs/agentkeep/pkg/auth"
	"github.com/hollowaylabs/agentkeep/pkg/logger"
	"github.com/hollowaylabs/agentkeep/pkg/memory"
	"github.com/hollowaylabs/agentkeep/pkg/oracle"
	"github.com/hollowaylabs/agentkeep/pkg/store"
	"github.com/hollowaylabs/agentkeep/pkg/vault"
)

// TaskCompress asks the drain worker to run one compression pass.
const TaskCompress = "compress"

// OracleFactory builds a summarization client for the given endpoint, model
// and credential. Swappable in tests.
type OracleFactory func(endpoint, model, apiKey string) (memory.Oracle, error)

func defaultOracleFactory(endpoint, model, apiKey string) (memory.Oracle, error) {
	return oracle.NewClient(endpoint, model, apiKey)
}

type Engine struct {
	store      *store.Store
	transcript *store.Transcript
	weblog     *store.WebLog
	tasks      *store.TaskQueue
	compressor *memory.Compressor
	vault      *vault.Vault
	authz      auth.Authorizer
	newOracle  OracleFactory

	// wake pokes the drain worker after an enqueue.
	wake chan struct{}
}

// Options carries the optional pieces of New.
type Options struct {
	OracleFactory OracleFactory
}

// New assembles an Engine on an opened store. A credential left on the
// profile record by an old deployment is moved into the vault here, so the
// plaintext never survives past the first open.
func New(ctx context.Context, st *store.Store, v *vault.Vault, authz auth.Authorizer, opts Options) (*Engine, error) {
	transcript, err := store.NewTranscript(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	tasks, err := store.NewTaskQueue(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("open task queue: %w", err)
	}

	e := &Engine{
		store:      st,
		transcript: transcript,
		weblog:     store.NewWebLog(st),
		tasks:      tasks,
		vault:      v,
		authz:      authz,
		newOracle:  opts.OracleFactory,
		wake:       make(chan struct{}, 1),
	}
	if e.newOracle == nil {
		e.newOracle = defaultOracleFactory
	}
	e.compressor = memory.NewCompressor(st, transcript, oracleSource{e})

	if err := e.migrateLegacyCredential(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) migrateLegacyCredential(ctx context.Context) error {
	profile, err := e.store.Profile(ctx)
	if err != nil {
		return err
	}
	if profile.LegacyAPIKey == "" {
		return nil
	}
	sealed, err := e.vault.Seal(ctx, profile.LegacyAPIKey)
	if err != nil {
		return fmt.Errorf("migrate legacy credential: %w", err)
	}
	if err := e.store.SetSecret(ctx, sealed); err != nil {
		return fmt.Errorf("migrate legacy credential: %w", err)
	}
	profile.LegacyAPIKey = ""
	if err := e.store.SetProfile(ctx, profile); err != nil {
		return err
	}
	logger.InfoCF("engine", "moved profile credential into the vault", nil)
	return nil
}

// oracleSource builds a fresh client per compression from the stored
// profile and sealed credential, so rotations take effect immediately.
type oracleSource struct{ e *Engine }

func (s oracleSource) Complete(ctx context.Context, system, user string) (string, error) {
	profile, err := s.e.store.Profile(ctx)
	if err != nil {
		return "", err
	}
	blob, err := s.e.store.Secret(ctx)
	if err != nil {
		return "", err
	}
	apiKey, err := s.e.vault.Open(ctx, blob)
	if err != nil {
		return "", err
	}
	cli, err := s.e.newOracle(profile.Endpoint, profile.Model, apiKey)
	if err != nil {
		return "", err
	}
	return cli.Complete(ctx, system, user)
}

func (e *Engine) require(caller string, min auth.Decision) error {
	return auth.Require(e.authz, caller, min)
}

// Ingest appends one message to the transcript. User messages also update
// the priors tier, and a compression task is queued once the uncompressed
// window reaches the profile's interval.
func (e *Engine) Ingest(ctx context.Context, caller, role, content string) (uint64, error) {
	if err := e.require(caller, auth.Authorized); err != nil {
		return 0, err
	}
	seq, err := e.transcript.Append(ctx, role, content)
	if err != nil {
		return 0, err
	}
	if role == store.RoleUser {
		st, err := e.store.MemoryState(ctx)
		if err != nil {
			return 0, err
		}
		st.Priors = memory.ObservePriors(st.Priors, content)
		if err := e.store.SetMemoryState(ctx, st); err != nil {
			return 0, err
		}
	}
	if err := e.store.BumpMetrics(ctx, func(m *store.Metrics) {
		m.TotalCalls++
		m.TotalMessages++
	}); err != nil {
		return 0, err
	}
	if err := e.queueCompressionIfDue(ctx, caller); err != nil {
		logger.WarnCF("engine", "could not queue compression", map[string]interface{}{"error": err.Error()})
	}
	return seq, nil
}

func (e *Engine) queueCompressionIfDue(ctx context.Context, caller string) error {
	profile, err := e.store.Profile(ctx)
	if err != nil {
		return err
	}
	if profile.CompressInterval == 0 {
		return nil
	}
	pending, err := e.compressor.Pending(ctx)
	if err != nil {
		return err
	}
	if pending < uint64(profile.CompressInterval) {
		return nil
	}
	if _, err := e.tasks.Enqueue(ctx, TaskCompress, "", caller); err != nil {
		return err
	}
	e.notify()
	return nil
}

func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// History returns the most recent transcript messages.
func (e *Engine) History(ctx context.Context, caller string, limit uint64) ([]store.Message, error) {
	if err := e.require(caller, auth.Authorized); err != nil {
		return nil, err
	}
	return e.transcript.Recent(ctx, limit)
}

// Memory returns the tiered memory state.
func (e *Engine) Memory(ctx context.Context, caller string) (store.MemoryState, error) {
	if err := e.require(caller, auth.Authorized); err != nil {
		return store.MemoryState{}, err
	}
	return e.store.MemoryState(ctx)
}

// Profile returns the stored profile with every secret-bearing field blank.
func (e *Engine) Profile(ctx context.Context, caller string) (store.AgentProfile, error) {
	if err := e.require(caller, auth.Authorized); err != nil {
		return store.AgentProfile{}, err
	}
	profile, err := e.store.Profile(ctx)
	if err != nil {
		return store.AgentProfile{}, err
	}
	profile.LegacyAPIKey = ""
	return profile, nil
}

// SetProfile replaces the profile. A credential supplied on the incoming
// record is sealed into the vault rather than stored with the profile.
func (e *Engine) SetProfile(ctx context.Context, caller string, p store.AgentProfile) error {
	if err := e.require(caller, auth.Privileged); err != nil {
		return err
	}
	if p.LegacyAPIKey != "" {
		sealed, err := e.vault.Seal(ctx, p.LegacyAPIKey)
		if err != nil {
			return err
		}
		if err := e.store.SetSecret(ctx, sealed); err != nil {
			return err
		}
		p.LegacyAPIKey = ""
	}
	return e.store.SetProfile(ctx, p)
}

// SetSecret seals and stores the oracle credential.
func (e *Engine) SetSecret(ctx context.Context, caller, secret string) error {
	if err := e.require(caller, auth.Privileged); err != nil {
		return err
	}
	sealed, err := e.vault.Seal(ctx, secret)
	if err != nil {
		return err
	}
	return e.store.SetSecret(ctx, sealed)
}

// HasSecret reports whether a credential is stored, without revealing it.
func (e *Engine) HasSecret(ctx context.Context, caller string) (bool, error) {
	if err := e.require(caller, auth.Authorized); err != nil {
		return false, err
	}
	blob, err := e.store.Secret(ctx)
	if err != nil {
		return false, err
	}
	return len(blob) > 0, nil
}

// Compress runs one compression pass synchronously.
func (e *Engine) Compress(ctx context.Context, caller string) error {
	if err := e.require(caller, auth.Privileged); err != nil {
		return err
	}
	return e.runCompression(ctx)
}

func (e *Engine) runCompression(ctx context.Context) error {
	err := e.compressor.Run(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, memory.ErrCompressionInFlight), errors.Is(err, memory.ErrStaleWatermark):
		return err
	default:
		bumpErr := e.store.BumpMetrics(ctx, func(m *store.Metrics) {
			m.Errors++
			if errors.Is(err, oracle.ErrUnavailable) || errors.Is(err, oracle.ErrMalformed) || errors.Is(err, memory.ErrEmptySummary) {
				m.OracleFailures++
			}
		})
		if bumpErr != nil {
			logger.WarnCF("engine", "metrics update failed", map[string]interface{}{"error": bumpErr.Error()})
		}
		return err
	}
}

// ClearHistory deletes every transcript message, resets the sequence
// counter and rewinds the compression watermark to match.
func (e *Engine) ClearHistory(ctx context.Context, caller string) (int64, error) {
	if err := e.require(caller, auth.Privileged); err != nil {
		return 0, err
	}
	n, err := e.transcript.Clear(ctx)
	if err != nil {
		return 0, err
	}
	st, err := e.store.MemoryState(ctx)
	if err != nil {
		return n, err
	}
	st.LastCompressedSeq = 0
	return n, e.store.SetMemoryState(ctx, st)
}

// ClearMemory blanks every memory tier. The watermark is kept so already
// compressed messages are not folded in twice.
func (e *Engine) ClearMemory(ctx context.Context, caller string) error {
	if err := e.require(caller, auth.Privileged); err != nil {
		return err
	}
	st, err := e.store.MemoryState(ctx)
	if err != nil {
		return err
	}
	st.Identity, st.Thread, st.Episodes, st.Priors = "", "", "", ""
	return e.store.SetMemoryState(ctx, st)
}

// RecordLookup writes one web lookup into the ring buffer.
func (e *Engine) RecordLookup(ctx context.Context, caller, url, summary string) error {
	if err := e.require(caller, auth.Authorized); err != nil {
		return err
	}
	return e.weblog.Record(ctx, url, summary)
}

// RecentLookups returns the ring contents, newest first.
func (e *Engine) RecentLookups(ctx context.Context, caller string) ([]store.WebEntry, error) {
	if err := e.require(caller, auth.Authorized); err != nil {
		return nil, err
	}
	return e.weblog.Recent(ctx)
}

// ClearLookups empties the ring buffer.
func (e *Engine) ClearLookups(ctx context.Context, caller string) error {
	if err := e.require(caller, auth.Privileged); err != nil {
		return err
	}
	return e.weblog.Clear(ctx)
}

// Metrics returns the durable counters.
func (e *Engine) Metrics(ctx context.Context, caller string) (store.Metrics, error) {
	if err := e.require(caller, auth.Authorized); err != nil {
		return store.Metrics{}, err
	}
	return e.store.Metrics(ctx)
}

// RecentCompressions exposes the compression audit trail.
func (e *Engine) RecentCompressions(ctx context.Context, caller string, limit int) ([]store.CompressionRecord, error) {
	if err := e.require(caller, auth.Authorized); err != nil {
		return nil, err
	}
	return e.store.RecentCompressions(ctx, limit)
}
