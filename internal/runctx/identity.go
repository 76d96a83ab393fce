package runctx

import "github.com/google/uuid"

// Identity carries the opaque identifiers of a pipeline run. Every field is
// optional; missing fields are generated when a snapshot is created.
type Identity struct {
	PipelineRunID string
	RequestID     string
	SessionID     string
	UserID        string
	OrgID         string
	InteractionID string
}

// EnsureIDs returns a copy with fresh UUIDs filled into any empty field.
func (id Identity) EnsureIDs() Identity {
	if id.PipelineRunID == "" {
		id.PipelineRunID = uuid.NewString()
	}
	if id.RequestID == "" {
		id.RequestID = uuid.NewString()
	}
	if id.SessionID == "" {
		id.SessionID = uuid.NewString()
	}
	if id.UserID == "" {
		id.UserID = uuid.NewString()
	}
	if id.OrgID == "" {
		id.OrgID = uuid.NewString()
	}
	if id.InteractionID == "" {
		id.InteractionID = uuid.NewString()
	}
	return id
}

// ToMap renders the identity with string-or-null values.
func (id Identity) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"pipeline_run_id": stringOrNil(id.PipelineRunID),
		"request_id":      stringOrNil(id.RequestID),
		"session_id":      stringOrNil(id.SessionID),
		"user_id":         stringOrNil(id.UserID),
		"org_id":          stringOrNil(id.OrgID),
		"interaction_id":  stringOrNil(id.InteractionID),
	}
}

// IdentityFromMap rebuilds an identity from its serialized form. Null and
// missing values yield empty fields.
func IdentityFromMap(raw map[string]interface{}) Identity {
	return Identity{
		PipelineRunID: stringAt(raw, "pipeline_run_id"),
		RequestID:     stringAt(raw, "request_id"),
		SessionID:     stringAt(raw, "session_id"),
		UserID:        stringAt(raw, "user_id"),
		OrgID:         stringAt(raw, "org_id"),
		InteractionID: stringAt(raw, "interaction_id"),
	}
}

func stringOrNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func stringAt(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}
