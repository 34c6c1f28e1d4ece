package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	// General validation
	CodeRequiredField Code = "REQUIRED_FIELD"
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeInvalidFormat Code = "INVALID_FORMAT"
	CodeNotFound      Code = "NOT_FOUND"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// External service errors
	CodeServiceTimeout     Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Exchange ingestion error codes
const (
	// REST fetch failures (network, timeout)
	CodeExchangeHTTPError Code = "EXCHANGE_HTTP_ERROR"
	// Malformed response body or fields
	CodeExchangeParseError Code = "EXCHANGE_PARSE_ERROR"
	// Exchange-reported error payload
	CodeExchangeAPIError Code = "EXCHANGE_API_ERROR"
	// Order book with an empty side, or an undefined mid-price
	CodeEmptyOrderBook Code = "EMPTY_ORDERBOOK"
	CodeInvalidMid     Code = "INVALID_MID"
	// Streaming book not yet seeded from a snapshot, or its mid-price undefined
	CodeOrderBookNotReady Code = "ORDERBOOK_NOT_READY"

	// WebSocket errors
	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodePingTimeout              Code = "PING_TIMEOUT"
	CodeSequenceGap              Code = "SEQUENCE_GAP"

	// Circuit breaker errors
	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)

// Aggregation error codes
const (
	// Every configured exchange failed to produce a mid-price
	CodeNoPriceData Code = "NO_PRICE_DATA"
)
