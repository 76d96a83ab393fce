package runctx

// Message is one turn in the conversation record.
type Message struct {
	Role     string
	Content  string
	Metadata map[string]interface{}
}

// RoutingDecision records where the conversation was routed and why.
type RoutingDecision struct {
	Route      string
	Confidence float64
	Reason     string
}

// Conversation is the message history plus an optional routing decision.
type Conversation struct {
	Messages []Message
	Routing  *RoutingDecision
}

// Enrichments collects lookup results attached to the run before execution.
type Enrichments struct {
	Profile    map[string]interface{}
	Memory     []map[string]interface{}
	Documents  []map[string]interface{}
	WebResults []map[string]interface{}
}

// Snapshot is the immutable input state of a pipeline run. With* methods
// return a new snapshot; existing references never observe changes.
// Extensions holds plugin payloads keyed by type name; unknown types survive
// a deserialize/serialize round-trip untouched.
type Snapshot struct {
	identity      Identity
	conversation  Conversation
	enrichments   Enrichments
	extensions    map[string]map[string]interface{}
	inputText     string
	topology      string
	metadata      map[string]interface{}
	executionMode string
}

// NewSnapshot creates a snapshot, generating any missing run identifiers.
func NewSnapshot(id Identity) *Snapshot {
	return &Snapshot{identity: id.EnsureIDs()}
}

// Identity returns the run identity.
func (s *Snapshot) Identity() Identity { return s.identity }

// Conversation returns the conversation record.
func (s *Snapshot) Conversation() Conversation { return s.conversation }

// Enrichments returns the enrichment record.
func (s *Snapshot) Enrichments() Enrichments { return s.enrichments }

// InputText returns the raw input text, if any.
func (s *Snapshot) InputText() string { return s.inputText }

// Topology returns the pipeline topology name, if any.
func (s *Snapshot) Topology() string { return s.topology }

// ExecutionMode returns the run's execution mode, if any.
func (s *Snapshot) ExecutionMode() string { return s.executionMode }

// Metadata returns the free-form metadata map. Callers must not mutate it.
func (s *Snapshot) Metadata() map[string]interface{} { return s.metadata }

// Extension returns the payload stored under the given type name.
func (s *Snapshot) Extension(typeName string) (map[string]interface{}, bool) {
	ext, ok := s.extensions[typeName]
	return ext, ok
}

// WithInputText returns a snapshot with the input text replaced.
func (s *Snapshot) WithInputText(text string) *Snapshot {
	next := *s
	next.inputText = text
	return &next
}

// WithTopology returns a snapshot with the topology replaced.
func (s *Snapshot) WithTopology(topology string) *Snapshot {
	next := *s
	next.topology = topology
	return &next
}

// WithExecutionMode returns a snapshot with the execution mode replaced.
func (s *Snapshot) WithExecutionMode(mode string) *Snapshot {
	next := *s
	next.executionMode = mode
	return &next
}

// WithMetadata returns a snapshot with the metadata entry set.
func (s *Snapshot) WithMetadata(key string, value interface{}) *Snapshot {
	next := *s
	meta := make(map[string]interface{}, len(s.metadata)+1)
	for k, v := range s.metadata {
		meta[k] = v
	}
	meta[key] = value
	next.metadata = meta
	return &next
}

// WithMessage returns a snapshot with the message appended to the
// conversation.
func (s *Snapshot) WithMessage(msg Message) *Snapshot {
	next := *s
	msgs := make([]Message, len(s.conversation.Messages), len(s.conversation.Messages)+1)
	copy(msgs, s.conversation.Messages)
	next.conversation.Messages = append(msgs, msg)
	return &next
}

// WithRouting returns a snapshot with the routing decision replaced.
func (s *Snapshot) WithRouting(decision RoutingDecision) *Snapshot {
	next := *s
	next.conversation.Routing = &decision
	return &next
}

// WithEnrichments returns a snapshot with the enrichment record replaced.
func (s *Snapshot) WithEnrichments(enr Enrichments) *Snapshot {
	next := *s
	next.enrichments = enr
	return &next
}

// WithExtension returns a snapshot with the extension payload stored under
// the type name.
func (s *Snapshot) WithExtension(typeName string, payload map[string]interface{}) *Snapshot {
	next := *s
	exts := make(map[string]map[string]interface{}, len(s.extensions)+1)
	for k, v := range s.extensions {
		exts[k] = v
	}
	exts[typeName] = payload
	next.extensions = exts
	return &next
}
