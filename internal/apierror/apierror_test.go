package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	err := NewAPIError(ErrNotFound, "booking not found", nil)
	assert.Equal(t, ErrNotFound, err.Code)
	assert.Equal(t, "NOT_FOUND: booking not found", err.Error())
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, MapErrorToHTTPStatus(NewAPIError(ErrNotFound, "x", nil)))
	assert.Equal(t, http.StatusConflict, MapErrorToHTTPStatus(NewAPIError(ErrConflict, "x", nil)))
	assert.Equal(t, http.StatusBadRequest, MapErrorToHTTPStatus(NewAPIError(ErrInvalidInput, "x", nil)))
	assert.Equal(t, http.StatusUnauthorized, MapErrorToHTTPStatus(NewAPIError(ErrUnauthorized, "x", nil)))
	assert.Equal(t, http.StatusInternalServerError, MapErrorToHTTPStatus(errors.New("plain")))
}
