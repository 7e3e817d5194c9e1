package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID = "user_id"
	FieldPeerID = "peer_id"

	// Realtime
	FieldSessionID     = "session_id"
	FieldWorkerID      = "worker_id"
	FieldTransport     = "transport"
	FieldCorrelationID = "correlation_id"
	FieldMessageID     = "message_id"
	FieldChannel       = "channel"
	FieldReason        = "reason"

	// Service
	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
