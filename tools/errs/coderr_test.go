package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeErrorIs(t *testing.T) {
	err := ErrPolicyRejected.WrapMsg("listen refused", "area", "a1")
	if !errors.Is(err, ErrPolicyRejected) {
		t.Fatalf("expected PolicyRejected, got %v", err)
	}
	if errors.Is(err, ErrUnknownArea) {
		t.Fatalf("unexpected match with UnknownArea")
	}
	if !strings.Contains(err.Error(), "area=a1") {
		t.Fatalf("detail missing: %q", err.Error())
	}
}

func TestCodeRelation(t *testing.T) {
	err := ErrWriterConflict.WrapMsg("held", "writer", "s1")
	if !errors.Is(err, ErrPolicyRejected) {
		t.Fatalf("writer conflict should count as policy rejection")
	}
	if errors.Is(ErrPolicyRejected.Wrap(), ErrWriterConflict) {
		t.Fatalf("parent must not match child")
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{ErrDisposed.Wrap(), Disposed},
		{fmt.Errorf("outer: %w", ErrFabricUnavailable.WrapMsg("timeout")), FabricUnavailable},
		{errors.New("plain"), ServerInternalError},
	}
	for _, c := range cases {
		if got := Code(c.err); got != c.want {
			t.Errorf("Code(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestWithDetailDoesNotMutate(t *testing.T) {
	d := ErrUnknownArea.WithDetail("a9")
	if ErrUnknownArea.Detail != "" {
		t.Fatalf("sentinel mutated: %q", ErrUnknownArea.Detail)
	}
	if d.Detail != "a9" {
		t.Fatalf("detail = %q", d.Detail)
	}
}

func TestErrPanic(t *testing.T) {
	if ErrPanic(nil) != nil {
		t.Fatalf("nil recover must give nil error")
	}
	err := ErrPanic("boom")
	if Code(err) != ServerInternalError || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected panic error %v", err)
	}
}
