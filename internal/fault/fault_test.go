package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := New(NotFound, "camp", "c123")
	assert.Equal(t, NotFound, CodeOf(err))
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Expired))

	// Wrapped faults still classify.
	wrapped := fmt.Errorf("loading roster: %w", err)
	assert.Equal(t, NotFound, CodeOf(wrapped))

	// Plain errors carry no code.
	assert.Equal(t, Code(""), CodeOf(errors.New("connection refused")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "camp: not_found: c123", New(NotFound, "camp", "c123").Error())
	assert.Equal(t, "camp: not_found", New(NotFound, "camp", "").Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{NotFound, http.StatusNotFound},
		{InvalidTransition, http.StatusConflict},
		{AlreadyRedeemed, http.StatusConflict},
		{CapacityUnavailable, http.StatusConflict},
		{Expired, http.StatusGone},
		{Unauthorized, http.StatusForbidden},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(New(tc.code, "x", "")), string(tc.code))
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("db down")))
}
