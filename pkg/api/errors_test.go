package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/classedge/sensei/pkg/models"
)

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind models.ErrorKind
		want int
	}{
		{models.KindBadRequest, http.StatusBadRequest},
		{models.KindParseError, http.StatusBadRequest},
		{models.KindOverCapacity, http.StatusTooManyRequests},
		{models.KindTimeout, http.StatusGatewayTimeout},
		{models.KindCancelled, statusClientClosedRequest},
		{models.KindDependencyUnavailable, http.StatusServiceUnavailable},
		{models.KindUnhealthy, http.StatusServiceUnavailable},
		{models.KindIncompatibleEmbedding, http.StatusUnprocessableEntity},
		{models.KindChecksumMismatch, http.StatusUnprocessableEntity},
		{models.KindNoRollbackTarget, http.StatusConflict},
		{models.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.want, statusForKind(tc.kind))
		})
	}
}

func TestKindMessageHidesCauses(t *testing.T) {
	// The wire message for a wrapped dependency failure must not leak the
	// underlying error text.
	err := models.NewKindError(models.KindDependencyUnavailable,
		errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	msg := kindMessage(models.KindOf(err))
	assert.NotContains(t, msg, "10.0.0.5")
	assert.NotContains(t, msg, "connection refused")
	assert.NotEmpty(t, msg)
}

func TestKindMessageCoversTaxonomy(t *testing.T) {
	kinds := []models.ErrorKind{
		models.KindBadRequest, models.KindOverCapacity, models.KindTimeout,
		models.KindCancelled, models.KindDependencyUnavailable,
		models.KindIncompatibleEmbedding, models.KindChecksumMismatch,
		models.KindParseError, models.KindNoRollbackTarget,
		models.KindUnhealthy, models.KindInternal,
	}
	for _, k := range kinds {
		assert.NotEmpty(t, kindMessage(k), "kind %s", k)
	}
}
