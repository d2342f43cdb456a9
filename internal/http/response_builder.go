// Package http exposes the budget service as a JSON API.
//
// This file implements a fluent builder for JSON responses and the mapping
// from domain errors to HTTP status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"budgetwatch/internal/core"
)

// ResponseBuilder provides a fluent API for building JSON responses.
type ResponseBuilder struct {
	statusCode int
	payload    any
	headers    map[string]string
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the value encoded as the response body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.payload = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}

	if b.payload == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	body, err := json.Marshal(b.payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"internal_error","message":"failed to encode response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(body, '\n'))
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Field       string   `json:"field,omitempty"`
	EnvelopeIDs []string `json:"envelope_ids,omitempty"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, code, message string) *ResponseBuilder {
	return NewResponse().
		Status(statusCode).
		JSON(ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, "bad_request", message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusNotFound, "not_found", message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "internal_error", message)
}

// TooManyRequestsError creates a 429 response.
func TooManyRequestsError() *ResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later")
}

// FromError maps a service error to its response. Unknown errors become a
// generic 500 so internals are not leaked.
func FromError(err error) *ResponseBuilder {
	var ve *core.ValidationError
	var ae *core.AmbiguousMatchError

	switch {
	case errors.As(err, &ve):
		return NewResponse().
			Status(http.StatusUnprocessableEntity).
			JSON(ErrorBody{Error: ErrorDetail{Code: "validation_error", Message: ve.Error(), Field: ve.Field}})
	case errors.As(err, &ae):
		return NewResponse().
			Status(http.StatusConflict).
			JSON(ErrorBody{Error: ErrorDetail{Code: "ambiguous_match", Message: ae.Error(), EnvelopeIDs: ae.EnvelopeIDs}})
	case errors.Is(err, core.ErrDuplicateEnvelope):
		return ErrorResponse(http.StatusConflict, "duplicate_envelope", err.Error())
	case errors.Is(err, core.ErrEnvelopeNotFound):
		return NotFoundError(err.Error())
	default:
		return InternalServerError("internal error")
	}
}

// isClientError reports whether FromError maps err to a 4xx status.
func isClientError(err error) bool {
	return FromError(err).statusCode < http.StatusInternalServerError
}
