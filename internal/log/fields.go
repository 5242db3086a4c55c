package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldOperation   = "operation"
	FieldError       = "error"
	FieldUserID      = "user_id"
	FieldMovementID  = "movement_id"
	FieldKind        = "kind"
	FieldAmountCents = "amount_cents"
	FieldCategory    = "category"
	FieldSubcategory = "subcategory"
	FieldAccount     = "account"
	FieldPeriod      = "period"
	FieldRowRef      = "row_ref"
	FieldVersion     = "version"
	FieldDuration    = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentStorage   = "storage"
	ComponentLedger    = "ledger"
	ComponentParser    = "parser"
	ComponentAnalytics = "analytics"
	ComponentAggregate = "aggregate"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentExport    = "export"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpParse     = "parse"
	OpCommit    = "commit"
	OpSync      = "sync"
	OpReconcile = "reconcile"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)
