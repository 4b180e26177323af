package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const internalErrorMessage = "Internal server error"

// Response is the envelope used by the dashboard and admin APIs.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MessageBody is the bare shape answered to plugin clients.
type MessageBody struct {
	Message string `json:"message"`
}

// AppError represents a structured application error with HTTP status and error code.
type AppError struct {
	HTTPStatus int    // HTTP status code (e.g. 400, 404, 500)
	Code       int    // Application-level error code
	Message    string // Human-readable error message
}

func (e *AppError) Error() string {
	return e.Message
}

// NewError builds an AppError whose code mirrors the HTTP status.
func NewError(status int, msg string) *AppError {
	return &AppError{HTTPStatus: status, Code: status, Message: msg}
}

func NewBadRequest(msg string) *AppError      { return NewError(http.StatusBadRequest, msg) }
func NewUnauthorized(msg string) *AppError    { return NewError(http.StatusUnauthorized, msg) }
func NewPaymentRequired(msg string) *AppError { return NewError(http.StatusPaymentRequired, msg) }
func NewForbidden(msg string) *AppError       { return NewError(http.StatusForbidden, msg) }
func NewNotFound(msg string) *AppError        { return NewError(http.StatusNotFound, msg) }
func NewConflict(msg string) *AppError        { return NewError(http.StatusConflict, msg) }
func NewTooManyRequests(msg string) *AppError { return NewError(http.StatusTooManyRequests, msg) }
func NewServerError(msg string) *AppError     { return NewError(http.StatusInternalServerError, msg) }
func NewBadGateway(msg string) *AppError      { return NewError(http.StatusBadGateway, msg) }

// AsAppError unwraps err into an AppError. Anything else becomes a generic
// 500 so store and driver messages never reach clients.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewServerError(internalErrorMessage)
}

// --- Gin response helpers ---

// Success sends a 200 OK response with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "ok",
		Data:    data,
	})
}

// Created sends a 201 Created response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "created",
		Data:    data,
	})
}

// Error sends an enveloped error response.
func Error(c *gin.Context, err error) {
	appErr := AsAppError(err)
	c.JSON(appErr.HTTPStatus, Response{
		Code:    appErr.Code,
		Message: appErr.Message,
	})
}

// Message sends the bare {"message": msg} shape.
func Message(c *gin.Context, status int, msg string) {
	c.JSON(status, MessageBody{Message: msg})
}

// MessageError is Error for the bare shape.
func MessageError(c *gin.Context, err error) {
	appErr := AsAppError(err)
	Message(c, appErr.HTTPStatus, appErr.Message)
}

// AbortMessage aborts the chain with the bare shape.
func AbortMessage(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, MessageBody{Message: msg})
}

// AbortError aborts the chain with an enveloped error.
func AbortError(c *gin.Context, err error) {
	appErr := AsAppError(err)
	c.AbortWithStatusJSON(appErr.HTTPStatus, Response{Code: appErr.Code, Message: appErr.Message})
}

func BadRequest(c *gin.Context, msg string)   { Error(c, NewBadRequest(msg)) }
func Unauthorized(c *gin.Context, msg string) { Error(c, NewUnauthorized(msg)) }
func Forbidden(c *gin.Context, msg string)    { Error(c, NewForbidden(msg)) }
func NotFound(c *gin.Context, msg string)     { Error(c, NewNotFound(msg)) }
func ServerError(c *gin.Context, msg string)  { Error(c, NewServerError(msg)) }
