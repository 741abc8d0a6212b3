package constants

type ContextKey string

const (
	PoolKey    ContextKey = "pool"
	TxKey      ContextKey = "tx"
	UserKey    ContextKey = "user"
	LoggerKey  ContextKey = "logger"
	RequestIDKey ContextKey = "request_id"
)
