package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/silentline/sentinel/internal/broker/model"
)

func TestError_MessageAndWrap(t *testing.T) {
	inner := errors.New("boom")
	e := model.NewConnector("webhook", "send", inner)
	assert.Equal(t, model.KindConnector, e.Kind)
	assert.Contains(t, e.Error(), "webhook error during send")
	assert.Contains(t, e.Error(), "boom")
	assert.ErrorIs(t, e, inner)
}

func TestNewNotFound_WithAndWithoutID(t *testing.T) {
	e := model.NewNotFound("alarm", "abc-123")
	assert.Equal(t, `alarm "abc-123" not found`, e.Error())

	e2 := model.NewNotFound("alarm", "")
	assert.Equal(t, "alarm not found", e2.Error())
}

func TestAsError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", model.NewValidation("severity", "invalid value"))
	e, ok := model.AsError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, model.KindValidation, e.Kind)
	assert.Equal(t, "severity", e.Field)

	_, ok = model.AsError(errors.New("plain"))
	assert.False(t, ok)
}
