package store

import (
	"github.com/hollowaylabs/agentkeep/pkg/codec"
)

// Schema versions for tagged records. Bump when appending fields.
const (
	messageVersion = 1
	stateVersion   = 1
	webVersion     = 1
	profileVersion = 1
	metricsVersion = 1
	taskVersion    = 1
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one append-only transcript record. Seq is unique and strictly
// increasing; it is both the storage key and an encoded field.
type Message struct {
	Seq         uint64
	Role        string
	Content     string
	CreatedAtMS int64
}

func (m Message) Encode() []byte {
	w := codec.NewWriter(len(m.Content) + 32)
	w.Version(messageVersion)
	w.U64(m.Seq)
	w.String(m.Role)
	w.String(m.Content)
	w.U64(uint64(m.CreatedAtMS))
	return w.Bytes()
}

// DecodeMessage reads either a tagged record or the untagged original layout
// of role, content and timestamp, where seq lived only in the storage key.
func DecodeMessage(data []byte) (Message, error) {
	r := codec.NewReader(data)
	var m Message

	_, tagged, err := r.Version()
	if err != nil {
		return Message{}, err
	}
	if tagged {
		if m.Seq, err = r.U64(); err != nil {
			return Message{}, err
		}
	}
	if m.Role, err = r.String(); err != nil {
		return Message{}, err
	}
	if m.Content, err = r.String(); err != nil {
		return Message{}, err
	}
	ts, err := r.U64()
	if err != nil {
		return Message{}, err
	}
	m.CreatedAtMS = int64(ts)
	return m, nil
}

// MemoryState is the singleton tiered long-term memory record.
type MemoryState struct {
	Identity          string
	Thread            string
	Episodes          string
	Priors            string
	UpdatedAtMS       int64
	LastCompressedSeq uint64
}

func (st MemoryState) Encode() []byte {
	w := codec.NewWriter(len(st.Identity) + len(st.Thread) + len(st.Episodes) + len(st.Priors) + 40)
	w.Version(stateVersion)
	w.String(st.Identity)
	w.String(st.Thread)
	w.String(st.Episodes)
	w.String(st.Priors)
	w.U64(uint64(st.UpdatedAtMS))
	w.U64(st.LastCompressedSeq)
	return w.Bytes()
}

// DecodeMemoryState reads a tagged record, or one of two untagged legacy
// layouts: the oldest held a single notes string plus two u64s (exactly 16
// trailing bytes, the notes become the thread tier), the newer held four
// tier strings plus two u64s.
func DecodeMemoryState(data []byte) (MemoryState, error) {
	r := codec.NewReader(data)
	var st MemoryState

	_, tagged, err := r.Version()
	if err != nil {
		return MemoryState{}, err
	}
	if !tagged {
		return decodeLegacyMemoryState(r)
	}

	if st.Identity, err = r.String(); err != nil {
		return MemoryState{}, err
	}
	if st.Thread, err = r.String(); err != nil {
		return MemoryState{}, err
	}
	if st.Episodes, err = r.String(); err != nil {
		return MemoryState{}, err
	}
	if st.Priors, err = r.String(); err != nil {
		return MemoryState{}, err
	}
	updated, err := r.U64()
	if err != nil {
		return MemoryState{}, err
	}
	last, err := r.U64()
	if err != nil {
		return MemoryState{}, err
	}
	st.UpdatedAtMS = int64(updated)
	st.LastCompressedSeq = last
	return st, nil
}

func decodeLegacyMemoryState(r *codec.Reader) (MemoryState, error) {
	var st MemoryState
	first, err := r.String()
	if err != nil {
		return MemoryState{}, err
	}
	if r.Remaining() == 16 {
		// Oldest layout: free-form notes + updated_at + watermark. The
		// notes map onto the thread tier; other tiers start empty.
		updated, err := r.U64()
		if err != nil {
			return MemoryState{}, err
		}
		last, err := r.U64()
		if err != nil {
			return MemoryState{}, err
		}
		return MemoryState{Thread: first, UpdatedAtMS: int64(updated), LastCompressedSeq: last}, nil
	}
	st.Identity = first
	if st.Thread, err = r.String(); err != nil {
		return MemoryState{}, err
	}
	if st.Episodes, err = r.String(); err != nil {
		return MemoryState{}, err
	}
	if st.Priors, err = r.String(); err != nil {
		return MemoryState{}, err
	}
	updated, err := r.U64()
	if err != nil {
		return MemoryState{}, err
	}
	last, err := r.U64()
	if err != nil {
		return MemoryState{}, err
	}
	st.UpdatedAtMS = int64(updated)
	st.LastCompressedSeq = last
	return st, nil
}

// WebEntry is one slot of the recent-lookup ring buffer.
type WebEntry struct {
	URL         string
	Summary     string
	CreatedAtMS int64
}

func (e WebEntry) Encode() []byte {
	w := codec.NewWriter(len(e.URL) + len(e.Summary) + 24)
	w.Version(webVersion)
	w.String(e.URL)
	w.String(e.Summary)
	w.U64(uint64(e.CreatedAtMS))
	return w.Bytes()
}

func DecodeWebEntry(data []byte) (WebEntry, error) {
	r := codec.NewReader(data)
	var e WebEntry
	_, _, err := r.Version()
	if err != nil {
		return WebEntry{}, err
	}
	if e.URL, err = r.String(); err != nil {
		return WebEntry{}, err
	}
	if e.Summary, err = r.String(); err != nil {
		return WebEntry{}, err
	}
	ts, err := r.U64()
	if err != nil {
		return WebEntry{}, err
	}
	e.CreatedAtMS = int64(ts)
	return e, nil
}

// DefaultCompressInterval applies when the encoded profile predates the
// interval field.
const DefaultCompressInterval = 6

// AgentProfile is the singleton durable agent configuration record.
//
// LegacyAPIKey is only ever populated by the decoder when reading a record
// written before the vault existed; Encode never writes it, and every read
// surface blanks it. The engine migrates it into the vault on first open.
type AgentProfile struct {
	Persona            string
	SystemPrompt       string
	Tools              []string
	LegacyAPIKey       string
	Model              string
	Endpoint           string
	MaxContextMessages uint32
	MaxResponseBytes   uint64
	AllowedCallers     []string
	CompressInterval   uint32
}

// DefaultProfile mirrors the defaults a fresh deployment starts from.
func DefaultProfile() AgentProfile {
	return AgentProfile{
		Persona:            "agentkeep",
		SystemPrompt:       "You are a concise, helpful assistant. Plain text only.",
		Tools:              []string{},
		Model:              "openai/gpt-4o-mini",
		Endpoint:           "https://openrouter.ai/api/v1/chat/completions",
		MaxContextMessages: 1,
		MaxResponseBytes:   8192,
		AllowedCallers:     []string{},
		CompressInterval:   4,
	}
}

func (p AgentProfile) Encode() []byte {
	w := codec.NewWriter(256)
	w.Version(profileVersion)
	w.String(p.Persona)
	w.String(p.SystemPrompt)
	w.Count(len(p.Tools))
	for _, tool := range p.Tools {
		w.String(tool)
	}
	// The credential slot is kept for layout compatibility but is always
	// written absent; the vault owns the secret.
	w.OptionalString("", false)
	w.String(p.Model)
	w.String(p.Endpoint)
	w.U32(p.MaxContextMessages)
	w.U64(p.MaxResponseBytes)
	w.Count(len(p.AllowedCallers))
	for _, caller := range p.AllowedCallers {
		w.String(caller)
	}
	w.U32(p.CompressInterval)
	return w.Bytes()
}

// DecodeAgentProfile reads a tagged or untagged profile. Records written
// before the caller allowlist and compress interval existed end exactly at
// the MaxResponseBytes boundary; those fields then default (empty allowlist,
// interval DefaultCompressInterval).
func DecodeAgentProfile(data []byte) (AgentProfile, error) {
	r := codec.NewReader(data)
	var p AgentProfile

	_, _, err := r.Version()
	if err != nil {
		return AgentProfile{}, err
	}
	if p.Persona, err = r.String(); err != nil {
		return AgentProfile{}, err
	}
	if p.SystemPrompt, err = r.String(); err != nil {
		return AgentProfile{}, err
	}
	n, err := r.Count()
	if err != nil {
		return AgentProfile{}, err
	}
	p.Tools = make([]string, 0, n)
	for i := 0; i < n; i++ {
		tool, err := r.String()
		if err != nil {
			return AgentProfile{}, err
		}
		p.Tools = append(p.Tools, tool)
	}
	key, present, err := r.OptionalString()
	if err != nil {
		return AgentProfile{}, err
	}
	if present {
		p.LegacyAPIKey = key
	}
	if p.Model, err = r.String(); err != nil {
		return AgentProfile{}, err
	}
	if p.Endpoint, err = r.String(); err != nil {
		return AgentProfile{}, err
	}
	if p.MaxContextMessages, err = r.U32(); err != nil {
		return AgentProfile{}, err
	}
	if p.MaxResponseBytes, err = r.U64(); err != nil {
		return AgentProfile{}, err
	}

	// Fields appended after the first shipped layout.
	p.AllowedCallers = []string{}
	if r.More() {
		n, err := r.Count()
		if err != nil {
			return AgentProfile{}, err
		}
		for i := 0; i < n; i++ {
			caller, err := r.String()
			if err != nil {
				return AgentProfile{}, err
			}
			p.AllowedCallers = append(p.AllowedCallers, caller)
		}
	}
	p.CompressInterval = DefaultCompressInterval
	if r.More() {
		if p.CompressInterval, err = r.U32(); err != nil {
			return AgentProfile{}, err
		}
	}
	return p, nil
}

// Metrics is the singleton counters record.
type Metrics struct {
	TotalCalls     uint64
	TotalMessages  uint64
	Errors         uint64
	OracleFailures uint64
}

func (m Metrics) Encode() []byte {
	w := codec.NewWriter(40)
	w.Version(metricsVersion)
	w.U64(m.TotalCalls)
	w.U64(m.TotalMessages)
	w.U64(m.Errors)
	w.U64(m.OracleFailures)
	return w.Bytes()
}

func DecodeMetrics(data []byte) (Metrics, error) {
	r := codec.NewReader(data)
	var m Metrics
	_, _, err := r.Version()
	if err != nil {
		return Metrics{}, err
	}
	fields := []*uint64{&m.TotalCalls, &m.TotalMessages, &m.Errors, &m.OracleFailures}
	for _, f := range fields {
		if !r.More() {
			break
		}
		if *f, err = r.U64(); err != nil {
			return Metrics{}, err
		}
	}
	return m, nil
}

// Task is one pending drain-queue item.
type Task struct {
	ID          uint64
	Kind        string
	Payload     string
	Caller      string
	CreatedAtMS int64
}

func (t Task) Encode() []byte {
	w := codec.NewWriter(len(t.Payload) + 48)
	w.Version(taskVersion)
	w.String(t.Kind)
	w.String(t.Payload)
	w.String(t.Caller)
	w.U64(uint64(t.CreatedAtMS))
	return w.Bytes()
}

func DecodeTask(data []byte) (Task, error) {
	r := codec.NewReader(data)
	var t Task
	_, _, err := r.Version()
	if err != nil {
		return Task{}, err
	}
	if t.Kind, err = r.String(); err != nil {
		return Task{}, err
	}
	if t.Payload, err = r.String(); err != nil {
		return Task{}, err
	}
	if t.Caller, err = r.String(); err != nil {
		return Task{}, err
	}
	ts, err := r.U64()
	if err != nil {
		return Task{}, err
	}
	t.CreatedAtMS = int64(ts)
	return t, nil
}
