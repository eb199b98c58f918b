package event_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
)

func TestErrorCodeMatching(t *testing.T) {
	err := event.NewError(event.CodeEventNotFound, "event missing")

	if !event.IsCode(err, event.CodeEventNotFound) {
		t.Error("expected code match")
	}
	if event.IsCode(err, event.CodeProcessingTimeout) {
		t.Error("expected no match for different code")
	}
	if event.IsCode(nil, event.CodeEventNotFound) {
		t.Error("expected nil error to match nothing")
	}
	if event.IsCode(errors.New("plain"), event.CodeEventNotFound) {
		t.Error("expected plain error to match nothing")
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := event.WrapError(event.CodeStoreNotInitialized, "persist failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
	if !event.IsCode(err, event.CodeStoreNotInitialized) {
		t.Error("expected code to survive wrapping")
	}

	// Wrapping another layer keeps both reachable
	outer := fmt.Errorf("request failed: %w", err)
	if !event.IsCode(outer, event.CodeStoreNotInitialized) {
		t.Error("expected code match through fmt wrapping")
	}
	if !errors.Is(outer, cause) {
		t.Error("expected cause through fmt wrapping")
	}
}

func TestErrorf(t *testing.T) {
	err := event.Errorf(event.CodeResourceLimitExceeded, "rejected %d of %d", 3, 10)

	var e *event.Error
	if !errors.As(err, &e) {
		t.Fatal("expected *event.Error")
	}
	if e.Code != event.CodeResourceLimitExceeded {
		t.Errorf("unexpected code %s", e.Code)
	}
	if e.Message != "rejected 3 of 10" {
		t.Errorf("unexpected message %q", e.Message)
	}
}
