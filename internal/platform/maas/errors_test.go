package maas

import (
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code int
		want Kind
	}{
		{401, KindAuth},
		{403, KindAuth},
		{409, KindConflict},
		{423, KindConflict},
		{400, KindPermanent},
		{404, KindPermanent},
		{422, KindPermanent},
		{500, KindTransient},
		{502, KindTransient},
		{503, KindTransient},
	}
	for _, tc := range cases {
		if got := classifyStatus(tc.code); got != tc.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tc.code, got, tc.want)
		}
	}
}

func TestKindPredicates(t *testing.T) {
	transient := &Error{Kind: KindTransient, Op: "deploy"}
	if !IsTransient(transient) || IsConflict(transient) || IsAuthFailure(transient) || IsPermanent(transient) {
		t.Error("transient error misclassified")
	}

	// Predicates see through wrapping.
	wrapped := fmt.Errorf("deploy machine m1: %w", &Error{Kind: KindConflict, Op: "deploy", StatusCode: 409})
	if !IsConflict(wrapped) {
		t.Error("wrapped conflict not detected")
	}

	if IsTransient(fmt.Errorf("plain error")) {
		t.Error("plain error reported transient")
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: KindConflict, Op: "deploy", StatusCode: 409, Message: "machine not deployable"}
	got := err.Error()
	want := "maas deploy: machine not deployable (conflict, HTTP 409)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	transport := &Error{Kind: KindTransient, Op: "list-machines", Message: "connection refused"}
	if transport.Error() != "maas list-machines: connection refused (transient)" {
		t.Errorf("unexpected transport error string: %q", transport.Error())
	}
}
