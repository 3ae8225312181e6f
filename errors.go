package poscache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/poscache/balance"
	"github.com/unkn0wn-root/poscache/paginate"
	"github.com/unkn0wn-root/poscache/storage"
)

// Error taxonomy. Input errors (policy, type field, pagination) are returned
// to the caller unchanged. Storage errors are recovered inside the cache
// unless Config.FailClosed is set.
type (
	InvalidPolicyError           = balance.InvalidPolicyError
	MissingTypeFieldError        = balance.MissingTypeFieldError
	DuplicateItemError           = balance.DuplicateItemError
	InvalidPaginationParamsError = paginate.InvalidParamsError
	StorageUnavailableError      = storage.UnavailableError
	CacheCorruptionError         = storage.CorruptionError
)

var (
	// ErrNotReady is returned when the sequence is being computed in the
	// background and no previous sequence can be served meanwhile.
	ErrNotReady = errors.New("poscache: sequence not ready")
	// ErrNotFound is returned by Page when no current entry exists.
	ErrNotFound = errors.New("poscache: sequence not found")
	// ErrInvalidConfig matches every *ConfigurationError.
	ErrInvalidConfig = errors.New("poscache: invalid configuration")
	// ErrInvalidQuery marks malformed queries (missing collection or items).
	ErrInvalidQuery = errors.New("poscache: invalid query")
	ErrClosed       = errors.New("poscache: cache closed")
)

// ConfigurationError reports an unusable setting. It is only returned by
// New and Config.Validate.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("poscache: config %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrInvalidConfig }

type InvalidateError struct {
	Key     string
	BumpErr error
	DelErr  error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("invalidate %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Key)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
