package errors

import "maps"

// ErrorCategory is the broad class of a failure, used to pick a D-Bus error name,
// an exit code and a log level.
type ErrorCategory string

const (
	// CategoryConfig covers malformed request blobs, unsupported protocol versions
	// and invalid configuration files.
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// CategoryHardware is a GPU or scheduling adapter failure that fails an apply.
	CategoryHardware ErrorCategory = "hardware"
	// CategoryAdapter is a soft adapter failure: logged and counted, never returned.
	CategoryAdapter ErrorCategory = "adapter"
	// CategoryRestore means at least one baseline could not be restored.
	CategoryRestore ErrorCategory = "restore"

	CategoryPrivilege ErrorCategory = "privilege"
	CategoryTransport ErrorCategory = "transport"
	CategoryJournal   ErrorCategory = "journal"

	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates the impact level of an error.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution completely
	SeverityError   ErrorSeverity = "error"   // Fails the current operation
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// RetryStrategy tells a caller whether repeating the operation can help.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"
	RetryBackoff    RetryStrategy = "backoff"
	RetryUserAction RetryStrategy = "user"
)

// ErrorContext provides structured context for errors.
type ErrorContext map[string]any

// Set adds or updates a context value.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

// Get retrieves a context value.
func (c ErrorContext) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	value, exists := c[key]
	return value, exists
}

// GetString retrieves a string context value.
func (c ErrorContext) GetString(key string) (string, bool) {
	if value, exists := c.Get(key); exists {
		if str, ok := value.(string); ok {
			return str, true
		}
	}
	return "", false
}

// GetStrings retrieves a string slice context value.
func (c ErrorContext) GetStrings(key string) ([]string, bool) {
	if value, exists := c.Get(key); exists {
		if s, ok := value.([]string); ok {
			return s, true
		}
	}
	return nil, false
}

// Merge combines two contexts, with other taking precedence.
func (c ErrorContext) Merge(other ErrorContext) ErrorContext {
	if c == nil {
		return other
	}
	if other == nil {
		return c
	}
	result := make(ErrorContext, len(c)+len(other))
	maps.Copy(result, c)
	maps.Copy(result, other)
	return result
}
