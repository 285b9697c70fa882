package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfDefaultsToTransient(t *testing.T) {
	if KindOf(errors.New("dial tcp: timeout")) != KindTransient {
		t.Error("unclassified errors should be transient")
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := Permanent(errors.New("corrupt zip"))
	wrapped := fmt.Errorf("extract stage: %w", base)
	if KindOf(wrapped) != KindPermanent {
		t.Error("classification should survive fmt.Errorf wrapping")
	}
	if Retryable(wrapped) {
		t.Error("permanent errors are not retryable")
	}
}

func TestClientInputNotRetryable(t *testing.T) {
	err := ClientInput(errors.New("unsupported content type"))
	if Retryable(err) {
		t.Error("client input errors are not retryable")
	}
	if KindOf(err) != KindClientInput {
		t.Errorf("got kind %v", KindOf(err))
	}
}

func TestNilPassthrough(t *testing.T) {
	if Transient(nil) != nil || Permanent(nil) != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestUnwrapPreservesSentinel(t *testing.T) {
	sentinel := errors.New("quota exhausted")
	err := Permanentf("embed batch: %w", sentinel)
	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should see through the classification")
	}
}

func TestUserMessageNeverLeaksDetail(t *testing.T) {
	err := Transient(errors.New("qdrant at 10.0.0.3:6333 returned 503"))
	msg := UserMessage(err)
	if msg == "" || msg == err.Error() {
		t.Errorf("user message should be a category, got %q", msg)
	}
}
