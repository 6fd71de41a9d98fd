package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldUserID     = "user_id"
	FieldExpenseID  = "expense_id"
	FieldTitle      = "title"
	FieldAmount     = "amount_cents"
	FieldCategory   = "category"
	FieldBackend    = "backend"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentAuth       = "auth"
	ComponentStorage    = "storage"
	ComponentRepository = "repository"
	ComponentStore      = "store"
	ComponentFeed       = "feed"
	ComponentBackend    = "backend"
	ComponentCache      = "cache"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpSubscribe = "subscribe"
	OpImport    = "import"
	OpExport    = "export"
	OpLogin     = "login"
	OpLogout    = "logout"
	OpSignup    = "signup"
	OpStartup   = "startup"
	OpShutdown  = "shutdown"
)
