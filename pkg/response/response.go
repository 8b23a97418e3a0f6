package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the API envelope.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// AppError carries the HTTP status and envelope code for a failed request.
type AppError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *AppError) Error() string {
	return e.Message
}

func newAppError(status int, msg string) *AppError {
	return &AppError{HTTPStatus: status, Code: status, Message: msg}
}

func NewBadRequest(msg string) *AppError   { return newAppError(http.StatusBadRequest, msg) }
func NewUnauthorized(msg string) *AppError { return newAppError(http.StatusUnauthorized, msg) }
func NewForbidden(msg string) *AppError    { return newAppError(http.StatusForbidden, msg) }
func NewNotFound(msg string) *AppError     { return newAppError(http.StatusNotFound, msg) }
func NewConflict(msg string) *AppError     { return newAppError(http.StatusConflict, msg) }
func NewServerError(msg string) *AppError  { return newAppError(http.StatusInternalServerError, msg) }

// NewUnprocessable is for requests that are well-formed but cannot run with
// the current configuration.
func NewUnprocessable(msg string) *AppError {
	return newAppError(http.StatusUnprocessableEntity, msg)
}

// NewBadGateway is for failures of an upstream tracker.
func NewBadGateway(msg string) *AppError {
	return newAppError(http.StatusBadGateway, msg)
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data})
}

// Accepted answers 202 for work handed to the task queue.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{Code: 0, Message: "accepted", Data: data})
}

// Error writes err as an envelope. Errors that are not *AppError become 500.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, Response{Code: appErr.Code, Message: appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, Response{Code: 500, Message: err.Error()})
}

// ErrorWithData writes err with a body, used when a run failed part way and
// the partial summary is still useful.
func ErrorWithData(c *gin.Context, err error, data interface{}) {
	status, code := http.StatusInternalServerError, 500
	var appErr *AppError
	if errors.As(err, &appErr) {
		status, code = appErr.HTTPStatus, appErr.Code
	}
	c.JSON(status, Response{Code: code, Message: err.Error(), Data: data})
}

func BadRequest(c *gin.Context, msg string) {
	Error(c, NewBadRequest(msg))
}

func Unauthorized(c *gin.Context, msg string) {
	Error(c, NewUnauthorized(msg))
}

func Forbidden(c *gin.Context, msg string) {
	Error(c, NewForbidden(msg))
}

func NotFound(c *gin.Context, msg string) {
	Error(c, NewNotFound(msg))
}

func TooManyRequests(c *gin.Context, msg string) {
	Error(c, newAppError(http.StatusTooManyRequests, msg))
}
