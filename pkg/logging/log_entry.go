package logging

// LogEntry represents a structured log record with fields relevant to
// annotation generation and review feedback.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Pipeline-specific fields
	ModelID string  // Vision model handling the request
	Species string  // Species under annotation, when known
	Cost    float64 // Operation cost in dollars

	// General structured data
	Fields map[string]interface{}
}
