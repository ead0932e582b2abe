package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Mupaky/topreach-sub001/internal/auth"
	"github.com/Mupaky/topreach-sub001/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		leak   string
	}{
		{"insufficient", &service.InsufficientBalanceError{Balance: 3, Requested: 5}, http.StatusPaymentRequired, ""},
		{"validation", fmt.Errorf("%w: amount", service.ErrValidation), http.StatusBadRequest, ""},
		{"expired", errors.Join(service.ErrUnauthorized, auth.ErrSessionExpired), http.StatusUnauthorized, ""},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, ""},
		{"order not found", service.ErrOrderNotFound, http.StatusNotFound, ""},
		{"package locked", service.ErrPackageLocked, http.StatusConflict, ""},
		{"invalid transition", service.ErrInvalidTransition, http.StatusConflict, ""},
		{"outcome unknown", fmt.Errorf("%w: %v", service.ErrOutcomeUnknown, context.DeadlineExceeded), http.StatusGatewayTimeout, "deadline"},
		{"store unavailable", fmt.Errorf("%w: dial tcp 10.0.0.5:3306", service.ErrStoreUnavailable), http.StatusServiceUnavailable, "10.0.0.5"},
		{"consistency", service.ErrConsistencyViolation, http.StatusInternalServerError, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "boom"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			renderError(c, tc.err)

			assert.Equal(t, tc.status, w.Code)
			var body apiResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEqual(t, 0, body.Code)
			if tc.leak != "" {
				assert.NotContains(t, w.Body.String(), tc.leak)
			}
		})
	}
}

func TestRenderError_InsufficientCarriesBalance(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	renderError(c, &service.InsufficientBalanceError{Balance: 40, Requested: 50})

	var body apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	var data struct {
		Error   string `json:"error"`
		Balance int64  `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, "insufficient_points", data.Error)
	assert.Equal(t, int64(40), data.Balance)
}
