package stage

import (
	"time"
)

// Status classifies the terminal state of a stage attempt.
type Status string

const (
	StatusOK     Status = "OK"
	StatusSkip   Status = "SKIP"
	StatusCancel Status = "CANCEL"
	StatusFail   Status = "FAIL"
	StatusRetry  Status = "RETRY"
)

// Kind classifies a stage for interceptor policy decisions.
type Kind string

const (
	KindWork       Kind = "WORK"
	KindEnrichment Kind = "ENRICHMENT"
	KindRouter     Kind = "ROUTER"
	KindGuard      Kind = "GUARD"
)

// Artifact is a structured by-product of a stage attempt, carried on the
// output in production order.
type Artifact struct {
	Name        string                 `json:"name"`
	ContentType string                 `json:"content_type,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Event is an application-level occurrence recorded on a stage output. It is
// distinct from the wire events the scheduler emits through the sink.
type Event struct {
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Output is the immutable result of running a stage. Construct through the
// OK/Skip/Cancel/Fail/Retry factories; fields must not be mutated after
// construction.
type Output struct {
	Status    Status
	Data      map[string]interface{}
	Artifacts []Artifact
	Events    []Event
	Metadata  map[string]interface{}
	Error     string
	Reason    string
	Retryable bool
}

// OK builds a successful output carrying the given data map.
func OK(data map[string]interface{}) *Output {
	return &Output{Status: StatusOK, Data: data}
}

// Skip builds an output recording that the stage did not run.
func Skip(reason string) *Output {
	return &Output{Status: StatusSkip, Reason: reason}
}

// Cancel builds an output requesting pipeline cancellation.
func Cancel(reason string) *Output {
	return &Output{Status: StatusCancel, Reason: reason}
}

// Fail builds a failed output. Retryable failures may be reattempted by the
// retry interceptor.
func Fail(errMsg string, retryable bool) *Output {
	return &Output{Status: StatusFail, Error: errMsg, Retryable: retryable}
}

// Retry builds an output explicitly requesting a retry of the stage.
func Retry(reason string, retryable bool) *Output {
	return &Output{Status: StatusRetry, Reason: reason, Retryable: retryable}
}

// WithArtifacts returns a copy of the output with the artifacts appended.
func (o *Output) WithArtifacts(artifacts ...Artifact) *Output {
	next := o.clone()
	next.Artifacts = append(next.Artifacts, artifacts...)
	return next
}

// WithEvents returns a copy of the output with the events appended.
func (o *Output) WithEvents(events ...Event) *Output {
	next := o.clone()
	next.Events = append(next.Events, events...)
	return next
}

// WithMetadata returns a copy of the output with the metadata entry set.
func (o *Output) WithMetadata(key string, value interface{}) *Output {
	next := o.clone()
	if next.Metadata == nil {
		next.Metadata = make(map[string]interface{}, 1)
	}
	next.Metadata[key] = value
	return next
}

// DataKeys returns the output's data keys. Callers sort before emitting.
func (o *Output) DataKeys() []string {
	keys := make([]string, 0, len(o.Data))
	for key := range o.Data {
		keys = append(keys, key)
	}
	return keys
}

func (o *Output) clone() *Output {
	next := *o
	next.Artifacts = append([]Artifact(nil), o.Artifacts...)
	next.Events = append([]Event(nil), o.Events...)
	if o.Metadata != nil {
		meta := make(map[string]interface{}, len(o.Metadata))
		for k, v := range o.Metadata {
			meta[k] = v
		}
		next.Metadata = meta
	}
	return &next
}
