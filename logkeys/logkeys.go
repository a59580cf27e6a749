// Package logkeys defines some static logging keys for consistent structured logging output.
// Mostly exists as a mental aid when drafting log messages.
package logkeys

const (
	Message = "msg"
	Error   = "err"

	// the unique identifier of an accepted operation.
	OperationID = "operation_id"

	// the object type segment of the accept endpoint path.
	ObjectType = "object_type"

	// the polling URL handed back to clients.
	StatusLocation = "location"

	// terminal artifact kind (success or failure).
	ResultKind = "kind"

	// number of times the queue has delivered an envelope.
	DeliveryCount = "delivery_count"

	// a context-dependent numerical count/length of something
	GenericCount = "count"
)
