package runctx

// ToMap serializes the snapshot. The result contains both the composed keys
// (run_id, conversation, enrichments, extensions, ...) and the flattened
// legacy identifier keys (pipeline_run_id, request_id, ...) for wire
// compatibility with older consumers.
func (s *Snapshot) ToMap() map[string]interface{} {
	out := map[string]interface{}{
		"run_id":       s.identity.ToMap(),
		"conversation": s.conversationToMap(),
		"enrichments":  s.enrichmentsToMap(),
		"extensions":   s.extensionsToMap(),
	}

	// Flattened legacy keys.
	for key, value := range s.identity.ToMap() {
		out[key] = value
	}

	if s.inputText != "" {
		out["input_text"] = s.inputText
	}
	if s.topology != "" {
		out["topology"] = s.topology
	}
	if s.executionMode != "" {
		out["execution_mode"] = s.executionMode
	}
	if len(s.metadata) > 0 {
		meta := make(map[string]interface{}, len(s.metadata))
		for k, v := range s.metadata {
			meta[k] = v
		}
		out["metadata"] = meta
	}
	return out
}

// SnapshotFromMap rebuilds a snapshot from its serialized form. Composed
// keys win over flattened legacy keys when both are present. Unknown
// extension types are preserved verbatim.
func SnapshotFromMap(raw map[string]interface{}) *Snapshot {
	s := &Snapshot{}

	if composed, ok := raw["run_id"].(map[string]interface{}); ok {
		s.identity = IdentityFromMap(composed)
	} else {
		s.identity = IdentityFromMap(raw)
	}

	if conv, ok := raw["conversation"].(map[string]interface{}); ok {
		s.conversation = conversationFromMap(conv)
	}
	if enr, ok := raw["enrichments"].(map[string]interface{}); ok {
		s.enrichments = enrichmentsFromMap(enr)
	}
	if exts, ok := raw["extensions"].(map[string]interface{}); ok {
		s.extensions = make(map[string]map[string]interface{}, len(exts))
		for typeName, payload := range exts {
			if m, ok := payload.(map[string]interface{}); ok {
				s.extensions[typeName] = m
			}
		}
		if len(s.extensions) == 0 {
			s.extensions = nil
		}
	}

	s.inputText = stringAt(raw, "input_text")
	s.topology = stringAt(raw, "topology")
	s.executionMode = stringAt(raw, "execution_mode")
	if meta, ok := raw["metadata"].(map[string]interface{}); ok && len(meta) > 0 {
		s.metadata = meta
	}
	return s
}

func (s *Snapshot) conversationToMap() map[string]interface{} {
	messages := make([]interface{}, 0, len(s.conversation.Messages))
	for _, msg := range s.conversation.Messages {
		entry := map[string]interface{}{"role": msg.Role, "content": msg.Content}
		if len(msg.Metadata) > 0 {
			entry["metadata"] = msg.Metadata
		}
		messages = append(messages, entry)
	}
	out := map[string]interface{}{"messages": messages}
	if s.conversation.Routing != nil {
		out["routing"] = map[string]interface{}{
			"route":      s.conversation.Routing.Route,
			"confidence": s.conversation.Routing.Confidence,
			"reason":     s.conversation.Routing.Reason,
		}
	}
	return out
}

func conversationFromMap(raw map[string]interface{}) Conversation {
	var conv Conversation
	if msgs, ok := raw["messages"].([]interface{}); ok {
		for _, item := range msgs {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			msg := Message{Role: stringAt(m, "role"), Content: stringAt(m, "content")}
			if meta, ok := m["metadata"].(map[string]interface{}); ok {
				msg.Metadata = meta
			}
			conv.Messages = append(conv.Messages, msg)
		}
	}
	if routing, ok := raw["routing"].(map[string]interface{}); ok {
		decision := RoutingDecision{Route: stringAt(routing, "route"), Reason: stringAt(routing, "reason")}
		if conf, ok := routing["confidence"].(float64); ok {
			decision.Confidence = conf
		}
		conv.Routing = &decision
	}
	return conv
}

func (s *Snapshot) enrichmentsToMap() map[string]interface{} {
	out := map[string]interface{}{}
	if len(s.enrichments.Profile) > 0 {
		out["profile"] = s.enrichments.Profile
	}
	if s.enrichments.Memory != nil {
		out["memory"] = listOfMaps(s.enrichments.Memory)
	}
	if s.enrichments.Documents != nil {
		out["documents"] = listOfMaps(s.enrichments.Documents)
	}
	if s.enrichments.WebResults != nil {
		out["web_results"] = listOfMaps(s.enrichments.WebResults)
	}
	return out
}

func enrichmentsFromMap(raw map[string]interface{}) Enrichments {
	var enr Enrichments
	if profile, ok := raw["profile"].(map[string]interface{}); ok {
		enr.Profile = profile
	}
	enr.Memory = mapsAt(raw, "memory")
	enr.Documents = mapsAt(raw, "documents")
	enr.WebResults = mapsAt(raw, "web_results")
	return enr
}

func (s *Snapshot) extensionsToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(s.extensions))
	for typeName, payload := range s.extensions {
		out[typeName] = payload
	}
	return out
}

func listOfMaps(in []map[string]interface{}) []interface{} {
	out := make([]interface{}, len(in))
	for i, m := range in {
		out[i] = m
	}
	return out
}

func mapsAt(raw map[string]interface{}, key string) []map[string]interface{} {
	list, ok := raw[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}
