package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	// General validation
	CodeRequiredField: "Required field is missing",
	CodeInvalidInput:  "Invalid input provided",
	CodeInvalidFormat: "Invalid data format",
	CodeNotFound:      "Resource not found",

	// Configuration
	CodeConfigurationError: "Configuration error",

	// External service errors
	CodeServiceTimeout:     "Service request timeout",
	CodeServiceUnavailable: "Service temporarily unavailable",
	CodeRateLimitExceeded:  "Rate limit exceeded",

	// System errors
	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	// Exchange ingestion
	CodeExchangeHTTPError:  "Exchange HTTP request failed",
	CodeExchangeParseError: "Failed to parse exchange response",
	CodeExchangeAPIError:   "Exchange API returned an error",
	CodeEmptyOrderBook:     "Order book side is empty",
	CodeInvalidMid:         "Mid-price is undefined",
	CodeOrderBookNotReady:  "Order book not initialized yet",

	// WebSocket
	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodePingTimeout:              "WebSocket ping timed out",
	CodeSequenceGap:              "Depth update sequence gap detected",

	// Circuit breaker
	CodeCircuitOpen: "Circuit breaker is open",

	// Aggregation
	CodeNoPriceData: "All exchanges unavailable",
}
