package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (e.g. "decode_failed").
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator-facing next step for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldImpact states the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldSessionID identifies one transport connection on the decode server.
	FieldSessionID = "session_id"
	// FieldSourceID is the process-local texture source identifier.
	FieldSourceID = "source_id"
	// FieldRequestID is the decode request identifier carried on the wire.
	FieldRequestID = "request_id"
	// FieldLocator is the (resolved) source locator of a decode request.
	FieldLocator = "locator"
	// FieldTransport names the transport variant (worker, stream, websocket).
	FieldTransport = "transport"
)
