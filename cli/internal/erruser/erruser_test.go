package erruser

import (
	"errors"
	"testing"
)

func TestErr_Error_returnsMsgOnly(t *testing.T) {
	t.Parallel()
	cause := errors.New("exit status 128")
	e := New("This directory is not inside a Git repository.", cause)
	if got := e.Error(); got != "This directory is not inside a Git repository." {
		t.Errorf("Error() = %q, want user message only", got)
	}
	if !errors.Is(e, cause) {
		t.Error("errors.Is(e, cause) should be true")
	}
}

func TestNew_nilErr_returnsSimpleError(t *testing.T) {
	t.Parallel()
	e := New("Something went wrong.", nil)
	if e.Error() != "Something went wrong." {
		t.Errorf("Error() = %q", e.Error())
	}
	if errors.Unwrap(e) != nil {
		t.Errorf("Unwrap() should be nil for New(msg, nil), got %v", errors.Unwrap(e))
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()
	wrapped := New("The report file could not be read.", errors.New("open: no such file"))
	msg, ok := Message(wrapped)
	if !ok || msg != "The report file could not be read." {
		t.Errorf("Message() = %q, %v", msg, ok)
	}
	if _, ok := Message(errors.New("plain")); ok {
		t.Error("Message on plain error should report false")
	}
	if _, ok := Message(nil); ok {
		t.Error("Message(nil) should report false")
	}
}

func TestErr_nilReceiver_noPanic(t *testing.T) {
	t.Parallel()
	var e *Err
	if got := e.Error(); got != "" {
		t.Errorf("(*Err)(nil).Error() = %q, want %q", got, "")
	}
	if e.Unwrap() != nil {
		t.Errorf("(*Err)(nil).Unwrap() = %v, want nil", e.Unwrap())
	}
}
