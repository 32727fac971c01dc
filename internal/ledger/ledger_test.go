package ledger

import (
	"errors"
	"fmt"
	"testing"
)

func TestExhaustedError_Message(t *testing.T) {
	err := &ExhaustedError{Used: 2000, Allowed: 2000}
	want := "quota exhausted: used 2000 of 2000"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestExhaustedError_SurvivesWrapping(t *testing.T) {
	inner := &ExhaustedError{Used: 5, Allowed: 5}
	wrapped := fmt.Errorf("reserve failed: %w", inner)

	var exhausted *ExhaustedError
	if !errors.As(wrapped, &exhausted) {
		t.Fatal("Expected errors.As to find ExhaustedError")
	}
	if exhausted.Used != 5 || exhausted.Allowed != 5 {
		t.Errorf("Expected used=5 allowed=5, got %+v", exhausted)
	}
}
