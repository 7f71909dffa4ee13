package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hollowaylabs/agentkeep/pkg/logger"
	"github.com/hollowaylabs/agentkeep/pkg/store"
)

var (
	// ErrCompressionInFlight is returned when a run is requested while a
	// previous one has not finished. Callers treat it as "try later".
	ErrCompressionInFlight = errors.New("compression already in flight")

	// ErrStaleWatermark is returned when another writer advanced the
	// compression watermark while the oracle call was outstanding. The
	// computed result is discarded rather than clobbering newer state.
	ErrStaleWatermark = errors.New("compression watermark advanced, result discarded")

	// ErrEmptySummary is returned when the oracle answered with no usable
	// text at all.
	ErrEmptySummary = errors.New("oracle returned an empty summary")
)

// summaryInstruction is the fixed system instruction sent with every
// compression request. The tagged-line contract is what ParseTiers expects.
const summaryInstruction = "You maintain the long-term memory of an assistant. " +
	"Given the current memory and a batch of new conversation messages, reply with " +
	"exactly three lines and nothing else:\n" +
	"I: stable facts about the user as key=value pairs separated by |\n" +
	"T: one sentence describing the current working thread\n" +
	"E: short summaries of finished topics, oldest first\n" +
	"Leave a line's content empty if there is nothing to record for it."

// Oracle produces a completion for a system instruction plus user prompt.
type Oracle interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// TranscriptSource exposes the append-only message log.
type TranscriptSource interface {
	Seq() uint64
	Range(ctx context.Context, fromExcl, toIncl uint64) ([]store.Message, error)
}

// StateStore is the slice of the page store the compressor needs.
type StateStore interface {
	MemoryState(ctx context.Context) (store.MemoryState, error)
	SetMemoryState(ctx context.Context, st store.MemoryState) error
	StartCompression(ctx context.Context, fromSeq, toSeq uint64) (string, error)
	FinishCompression(ctx context.Context, id, status, errMsg string) error
}

// Compressor folds uncompressed transcript messages into the tiered memory
// through a single oracle round trip. At most one run executes at a time and
// results are applied only when the watermark is still the one observed at
// the start of the run.
type Compressor struct {
	states StateStore
	log    TranscriptSource
	oracle Oracle
	now    func() int64

	mu      sync.Mutex
	running bool
}

func NewCompressor(states StateStore, log TranscriptSource, oracle Oracle) *Compressor {
	return &Compressor{
		states: states,
		log:    log,
		oracle: oracle,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Pending reports how many transcript messages sit past the watermark.
func (c *Compressor) Pending(ctx context.Context) (uint64, error) {
	st, err := c.states.MemoryState(ctx)
	if err != nil {
		return 0, err
	}
	current := c.log.Seq()
	if current <= st.LastCompressedSeq {
		return 0, nil
	}
	return current - st.LastCompressedSeq, nil
}

// Run performs one compression pass. With nothing pending it is a no-op and
// leaves the stored state untouched, including its update timestamp.
func (c *Compressor) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrCompressionInFlight
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	st, err := c.states.MemoryState(ctx)
	if err != nil {
		return err
	}
	watermark := st.LastCompressedSeq
	current := c.log.Seq()
	if current <= watermark {
		return nil
	}
	msgs, err := c.log.Range(ctx, watermark, current)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	auditID, err := c.states.StartCompression(ctx, watermark, current)
	if err != nil {
		return err
	}

	raw, err := c.oracle.Complete(ctx, summaryInstruction, buildPrompt(st, msgs))
	if err != nil {
		c.finish(ctx, auditID, store.CompressionFailed, err.Error())
		return fmt.Errorf("compression oracle call: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		c.finish(ctx, auditID, store.CompressionFailed, ErrEmptySummary.Error())
		return ErrEmptySummary
	}

	identity, thread, episodes := ParseTiers(raw)
	if identity == "" && thread == "" && episodes == "" {
		// Untagged answer: the oracle summarized but ignored the line
		// contract. Treat the whole text as the working thread.
		thread = strings.TrimSpace(raw)
	}

	// Re-read before applying. Priors advance on every ingested message and
	// must come from the freshest state; the watermark decides whether the
	// whole result is still applicable.
	next, err := c.states.MemoryState(ctx)
	if err != nil {
		c.finish(ctx, auditID, store.CompressionFailed, err.Error())
		return err
	}
	if next.LastCompressedSeq != watermark {
		c.finish(ctx, auditID, store.CompressionStale, "")
		return ErrStaleWatermark
	}

	if identity != "" {
		next.Identity = MergeIdentity(next.Identity, identity)
	}
	if thread != "" {
		next.Thread = TruncateBytes(thread, MaxThreadBytes)
	}
	if episodes != "" {
		next.Episodes = AppendEpisodes(next.Episodes, TruncateBytes(episodes, MaxEpisodesBytes))
	}
	next.LastCompressedSeq = current
	next.UpdatedAtMS = c.now()

	if err := c.states.SetMemoryState(ctx, next); err != nil {
		c.finish(ctx, auditID, store.CompressionFailed, err.Error())
		return err
	}
	c.finish(ctx, auditID, store.CompressionCompleted, "")
	logger.InfoCF("memory", "compressed transcript window", map[string]interface{}{
		"from": watermark,
		"to":   current,
		"msgs": len(msgs),
	})
	return nil
}

func (c *Compressor) finish(ctx context.Context, id, status, errMsg string) {
	if err := c.states.FinishCompression(ctx, id, status, errMsg); err != nil {
		logger.WarnCF("memory", "compression audit update failed", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
	}
}

// buildPrompt renders the current memory plus the pending window. Message
// bodies are capped so a single verbose turn cannot dominate the context.
func buildPrompt(st store.MemoryState, msgs []store.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I: %s\n", st.Identity)
	fmt.Fprintf(&b, "T: %s\n", st.Thread)
	fmt.Fprintf(&b, "E: %s\n", st.Episodes)
	b.WriteString("---\n")
	for _, m := range msgs {
		tag := "U"
		if m.Role == store.RoleAssistant {
			tag = "A"
		}
		body := m.Content
		if len(body) > transcriptBodyMaxBytes {
			body = TruncateBytes(body, transcriptBodyMaxBytes) + ".."
		}
		fmt.Fprintf(&b, "%s: %s\n", tag, body)
	}
	return b.String()
}
