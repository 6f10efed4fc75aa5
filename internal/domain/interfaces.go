package domain

// EnvelopeSink consumes decoded feed envelopes.
type EnvelopeSink interface {
	ApplyEnvelope(env Envelope)
}

// AuditRecorder stores accepted mutations.
// Implementations must not call back into the engine.
type AuditRecorder interface {
	Record(rec AuditRecord) error
}

// AuditReader reads the journal.
type AuditReader interface {
	// ForOrder returns one order's trail, oldest first.
	ForOrder(orderID string) ([]AuditRecord, error)
	// Recent returns the newest rows across all orders, newest first.
	Recent(limit int) ([]AuditRecord, error)
}
