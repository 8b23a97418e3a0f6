package handlers

import (
	"errors"

	"github.com/huangang/trackersync/internal/services"
	"github.com/huangang/trackersync/internal/syncerr"
	"github.com/huangang/trackersync/pkg/response"
	"github.com/huangang/trackersync/pkg/transport"
)

// appError maps service and pipeline errors onto HTTP statuses.
// Unknown errors pass through and become 500.
func appError(err error) error {
	var cfgErr *syncerr.ConfigError
	var apiErr *transport.Error
	switch {
	case errors.Is(err, services.ErrIssueNotFound):
		return response.NewNotFound(err.Error())
	case errors.Is(err, services.ErrIssueNotLinked):
		return response.NewConflict(err.Error())
	case errors.Is(err, syncerr.ErrSyncInProgress):
		return response.NewConflict(err.Error())
	case errors.As(err, &cfgErr):
		return response.NewUnprocessable(err.Error())
	case errors.As(err, &apiErr):
		return response.NewBadGateway(err.Error())
	default:
		return err
	}
}
