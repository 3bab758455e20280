package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestError_ErrorStringIncludesCauseWhenPresent(t *testing.T) {
	plain := apperr.New(apperr.KindSchema, "bad doc")
	assert.Equal(t, "schema: bad doc", plain.Error())

	wrapped := apperr.Wrap(apperr.KindInternal, "read failed", errors.New("disk full"))
	assert.Equal(t, "internal: read failed: disk full", wrapped.Error())
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	wrapped := apperr.Wrap(apperr.KindInternal, "msg", cause)
	assert.Same(t, cause, errors.Unwrap(wrapped))
}

func TestKindOf_ExtractsKindThroughWrapping(t *testing.T) {
	err := apperr.New(apperr.KindRoundBlocked, "round blocked")
	wrapped := fmt.Errorf("context: %w", err)
	assert.Equal(t, apperr.KindRoundBlocked, apperr.KindOf(wrapped))
}

func TestKindOf_DefaultsToInternalForPlainErrors(t *testing.T) {
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(errors.New("plain")))
}

func TestHTTPStatus_MapsEveryKind(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindSchema:             http.StatusBadRequest,
		apperr.KindExpression:         http.StatusBadRequest,
		apperr.KindNotFound:           http.StatusNotFound,
		apperr.KindStateConflict:      http.StatusConflict,
		apperr.KindRoundBlocked:       http.StatusConflict,
		apperr.KindAdapterTimeout:     http.StatusGatewayTimeout,
		apperr.KindAdapterUnavailable: http.StatusServiceUnavailable,
		apperr.KindQueueUnavailable:   http.StatusServiceUnavailable,
		apperr.KindAdapterProtocol:    http.StatusBadGateway,
		apperr.KindInternal:           http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, apperr.HTTPStatus(kind), "kind %s", kind)
	}
}
