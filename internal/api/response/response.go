package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Success returns a successful response with data
func Success(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// Created returns a 201 Created response
func Created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// NoContent returns a 204 No Content response
func NoContent(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// BadRequest returns a 400 Bad Request response
func BadRequest(c echo.Context, message string) error {
	return errorJSON(c, http.StatusBadRequest, message)
}

// NotFound returns a 404 Not Found response
func NotFound(c echo.Context, message string) error {
	return errorJSON(c, http.StatusNotFound, message)
}

// Conflict returns a 409 Conflict response
func Conflict(c echo.Context, message string) error {
	return errorJSON(c, http.StatusConflict, message)
}

// Gone returns a 410 Gone response
func Gone(c echo.Context, message string) error {
	return errorJSON(c, http.StatusGone, message)
}

// InternalError returns a 500 Internal Server Error response
func InternalError(c echo.Context, message string) error {
	return errorJSON(c, http.StatusInternalServerError, message)
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorResponse{
		Success: false,
		Error:   message,
	})
}
