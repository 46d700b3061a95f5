package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("track event: %w", Validation("experiment", "required"))
	assert.True(t, IsValidation(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "track event: validation error: experiment: required", err.Error())

	cause := errors.New("disk I/O error")
	err = fmt.Errorf("record call: %w", StoreUnavailable("upsert call", cause))
	assert.True(t, IsStoreUnavailable(err))
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, `experiment "hero" not found`, NotFound("experiment", "hero").Error())
}

func TestRespond_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{Validation("call_sid", "required"), http.StatusBadRequest, CodeValidationError},
		{NotFound("experiment", "x"), http.StatusNotFound, CodeNotFound},
		{StoreUnavailable("op", errors.New("locked")), http.StatusServiceUnavailable, CodeStoreUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, CodeServerError},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)

		status := Respond(c, tc.err)
		assert.Equal(t, tc.status, status)
		assert.Equal(t, tc.status, w.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tc.code, body.Error)
	}
}

func TestUnavailable_SetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Unavailable(c, errors.New("database is locked"))
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestDetails_HiddenUnlessExposed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, expose := range []bool{false, true} {
		r := gin.New()
		r.Use(ExposeDetails(expose))
		r.GET("/", func(c *gin.Context) {
			Respond(c, errors.New("sqlite: disk I/O error"))
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		if expose {
			assert.Equal(t, "sqlite: disk I/O error", body.Details)
		} else {
			assert.Empty(t, body.Details)
		}
	}

	// no middleware at all behaves like expose=false
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Unavailable(c, errors.New("database is locked"))
	assert.NotContains(t, w.Body.String(), "database is locked")
}

func TestBadRequest_BodyTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	BadRequest(c, "invalid JSON body", fmt.Errorf("bind: %w", &http.MaxBytesError{Limit: 1024}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodeTooLarge, body.Error)
}
