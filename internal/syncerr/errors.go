// Package syncerr holds the error kinds shared by the sync pipeline.
package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSyncInProgress is returned when another runner holds the schedule lock.
var ErrSyncInProgress = errors.New("sync already in progress")

// ConfigError aborts a run before any remote call is made.
type ConfigError struct {
	Service string
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing %s configuration keys: %s", e.Service, strings.Join(e.Missing, ", "))
}

// TransformError marks a single malformed source record. Callers skip the
// record and continue.
type TransformError struct {
	Source   string
	SourceID string
	Err      error
}

func (e *TransformError) Error() string {
	if e.SourceID == "" {
		return fmt.Sprintf("transform %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("transform %s #%s: %v", e.Source, e.SourceID, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

func IsTransformError(err error) bool {
	var trErr *TransformError
	return errors.As(err, &trErr)
}
