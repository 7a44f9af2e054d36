package errs

import (
	"fmt"
	"testing"
)

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(System, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOfExtractsKindThroughWrapping(t *testing.T) {
	base := Wrap(Authorization, fmt.Errorf("bad key"))
	wrapped := fmt.Errorf("decrypt: %w", base)

	kind, ok := Of(wrapped)
	if !ok {
		t.Fatal("expected a kind to be found")
	}
	if kind != Authorization {
		t.Fatalf("expected Authorization, got %v", kind)
	}
}

func TestOfReportsFalseWithoutKind(t *testing.T) {
	if _, ok := Of(fmt.Errorf("plain error")); ok {
		t.Fatal("expected no kind on a plain error")
	}
}
