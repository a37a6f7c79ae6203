package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrSameStore          = fmt.Errorf("source and target resolve to the same record store")

	// Authentication errors
	ErrAuthFailed    = fmt.Errorf("authentication failed")
	ErrTokenExpired  = fmt.Errorf("access token expired")
	ErrRefreshFailed = fmt.Errorf("token refresh failed")
	ErrTimeout       = fmt.Errorf("operation timed out")

	// Record store errors
	ErrStoreRequest      = fmt.Errorf("record store request failed")
	ErrStoreUnavailable  = fmt.Errorf("record store unavailable")
	ErrRecordNotFound    = fmt.Errorf("record not found")
	ErrBatchFailed       = fmt.Errorf("batch create failed")
	ErrSchemaNotFound    = fmt.Errorf("field schema not found")
	ErrUnknownRecordType = fmt.Errorf("unknown record type")
	ErrDuplicateRecord   = fmt.Errorf("duplicate record")
	ErrNoNaturalKey      = fmt.Errorf("no natural key for record")

	// Persistence errors
	ErrMappingNotFound = fmt.Errorf("mapping not found")
	ErrRunNotFound     = fmt.Errorf("run not found")

	// Engine errors
	ErrRequiredReference = fmt.Errorf("required reference unresolvable")
	ErrFetchFailed       = fmt.Errorf("source record fetch failed")
	ErrCreateFailed      = fmt.Errorf("record creation failed")
	ErrPatchFailed       = fmt.Errorf("reference patch failed")
	ErrCycleSkipped      = fmt.Errorf("record already in flight")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
