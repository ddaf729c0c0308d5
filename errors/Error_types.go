package errors

var (
	ErrUnknown             = New(ERR_UNKNOWN, "unknown error")
	ErrInvalidArgument     = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrThresholdExceeded   = New(ERR_THRESHOLD_EXCEEDED, "threshold exceeded")
	ErrNotFound            = New(ERR_NOT_FOUND, "not found")
	ErrProcessing          = New(ERR_PROCESSING, "error processing")
	ErrConfiguration       = New(ERR_CONFIGURATION, "configuration error")
	ErrContext             = New(ERR_CONTEXT, "context error")
	ErrContextCanceled     = New(ERR_CONTEXT_CANCELED, "context canceled")
	ErrError               = New(ERR_ERROR, "generic error")
	ErrServiceUnavailable  = New(ERR_SERVICE_UNAVAILABLE, "service unavailable")
	ErrServiceNotStarted   = New(ERR_SERVICE_NOT_STARTED, "service not started")
	ErrServiceError        = New(ERR_SERVICE_ERROR, "service error")
	ErrStorageUnavailable  = New(ERR_STORAGE_UNAVAILABLE, "storage unavailable")
	ErrStorageNotStarted   = New(ERR_STORAGE_NOT_STARTED, "storage not started")
	ErrStorageError        = New(ERR_STORAGE_ERROR, "storage error")
	ErrLockTimeout         = New(ERR_LOCK_TIMEOUT, "lock timeout")
	ErrTransientIO         = New(ERR_TRANSIENT_IO, "transient i/o error")
	ErrEmptyPayload        = New(ERR_EMPTY_PAYLOAD, "empty payload")
	ErrCorruptedCacheEntry = New(ERR_CORRUPTED_CACHE_ENTRY, "corrupted cache entry")
)

// errors initialization functions

func NewUnknownError(message string, params ...interface{}) error {
	return New(ERR_UNKNOWN, message, params...)
}
func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}
func NewThresholdExceededError(message string, params ...interface{}) error {
	return New(ERR_THRESHOLD_EXCEEDED, message, params...)
}
func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}
func NewProcessingError(message string, params ...interface{}) error {
	return New(ERR_PROCESSING, message, params...)
}
func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}
func NewContextError(message string, params ...interface{}) error {
	return New(ERR_CONTEXT, message, params...)
}
func NewContextCanceledError(message string, params ...interface{}) error {
	return New(ERR_CONTEXT_CANCELED, message, params...)
}
func NewError(message string, params ...interface{}) error {
	return New(ERR_ERROR, message, params...)
}
func NewServiceUnavailableError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_UNAVAILABLE, message, params...)
}
func NewServiceNotStartedError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_NOT_STARTED, message, params...)
}
func NewServiceError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_ERROR, message, params...)
}
func NewStorageUnavailableError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_UNAVAILABLE, message, params...)
}
func NewStorageNotStartedError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_NOT_STARTED, message, params...)
}
func NewStorageError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_ERROR, message, params...)
}
func NewTransientIOError(message string, params ...interface{}) error {
	return New(ERR_TRANSIENT_IO, message, params...)
}
func NewEmptyPayloadError(message string, params ...interface{}) error {
	return New(ERR_EMPTY_PAYLOAD, message, params...)
}
func NewCorruptedCacheEntryError(message string, params ...interface{}) error {
	return New(ERR_CORRUPTED_CACHE_ENTRY, message, params...)
}

// NewLockTimeoutError returns a lock timeout carrying the path of the ticket file, so an operator
// can inspect or remove it.
func NewLockTimeoutError(lockPath string, message string, params ...interface{}) error {
	err := New(ERR_LOCK_TIMEOUT, message, params...)
	err.SetData("lock_path", lockPath)

	return err
}
