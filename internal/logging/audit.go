package logging

import "go.uber.org/zap"

// Event names the closed vocabulary of audit events. Every policy
// evaluation, retrieval, and state mutation emits one of these; the
// event_type field is part of the external log contract.
type Event string

const (
	// Policy engine events.
	EventPolicyEvaluationStarted Event = "policy_evaluation_started"
	EventPolicyResolutionDecided Event = "policy_resolution_decided"
	EventOCCRaceCondition        Event = "occ_race_condition"

	// Persistence events.
	EventStateMutationCommitted Event = "state_mutation_committed"
	EventStateMutationFailed    Event = "state_mutation_failed"
	EventUpdateStateFailed      Event = "update_state_failed"

	// Retrieval and governance events.
	EventMemoryRetrieved     Event = "memory_retrieved_event"
	EventRateLimitExceeded   Event = "rate_limit_exceeded"
	EventRateLimitCheckError Event = "rate_limit_check_failed"

	// Tool surface events.
	EventToolCallStart     Event = "tool_call_start"
	EventToolCallRejected  Event = "tool_call_rejected"
	EventToolCallBlocked   Event = "tool_call_blocked"
	EventToolCallFailed    Event = "tool_call_failed"
	EventMemoryStoreDenied Event = "memory_store_rejected"

	// Settings events.
	EventSettingsLoadError Event = "settings_load_error"
	EventMalformedSetting  Event = "malformed_setting"

	// Conversation events.
	EventChatRequest      Event = "chat_request"
	EventChatResponse     Event = "chat_response"
	EventChatFailed       Event = "chat_failed"
	EventExtractionFailed Event = "memory_extraction_failed"
)

// Field renders the event as the standard event_type log field.
func (e Event) Field() zap.Field {
	return zap.String("event_type", string(e))
}

// Correlation renders the caller-supplied correlation id. The same id
// threads through every log line for one evaluation or retrieval.
func Correlation(id string) zap.Field {
	return zap.String("correlation_id", id)
}
