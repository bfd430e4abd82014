package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	cause := stderrors.New("boom")

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{name: "transient", err: Transient("probe failed", cause), want: ClassTransient},
		{name: "permanent device", err: PermanentDevice("registry rejected device", cause), want: ClassPermanentDevice},
		{name: "permanent payload", err: PermanentPayload("hub rejected payload", cause), want: ClassPermanentPayload},
		{name: "fatal", err: Fatal("disk write failed", cause), want: ClassFatal},
		{name: "unclassified defaults to transient", err: cause, want: ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestClassSurvivesWrapping(t *testing.T) {
	err := PermanentDevice("registry rejected device", stderrors.New("status 403"))
	wrapped := fmt.Errorf("registration failed: %w", err)

	assert.Equal(t, ClassPermanentDevice, ClassOf(wrapped))
	assert.True(t, IsPermanentDevice(wrapped))
	assert.False(t, IsTransient(wrapped))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Transient("registry unreachable", cause)

	assert.Equal(t, "registry unreachable: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestErrorWithoutCause(t *testing.T) {
	err := PermanentPayload("payload exceeds size limit", nil)

	assert.Equal(t, "payload exceeds size limit", err.Error())
	assert.True(t, IsPermanentPayload(err))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsFatal(Fatal("durable enqueue failed", nil)))
	assert.True(t, IsTransient(Transient("timeout", nil)))
	assert.False(t, IsFatal(Transient("timeout", nil)))
	assert.False(t, IsPermanentPayload(Fatal("disk", nil)))
}
