package expr

import (
	"errors"
	"testing"
)

func testContext() Context {
	return Context{
		"github": {
			"workflow":   "ci",
			"ref":        "refs/heads/master",
			"event_name": "push",
		},
		"matrix": {
			"python-version": "3.10",
		},
		"job": {
			"status": "success",
		},
	}
}

func TestExpand_ConcurrencyGroupKey(t *testing.T) {
	got, err := Expand("${{ github.workflow }}-${{ github.ref }}", testContext())
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if got != "ci-refs/heads/master" {
		t.Errorf("Expected ci-refs/heads/master, got %q", got)
	}
}

func TestExpand_MatrixValue(t *testing.T) {
	got, err := Expand("python-${{ matrix.python-version }}", testContext())
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if got != "python-3.10" {
		t.Errorf("Expected python-3.10, got %q", got)
	}
}

func TestExpand_NoExpressions(t *testing.T) {
	got, err := Expand("plain text", testContext())
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if got != "plain text" {
		t.Errorf("Expected passthrough, got %q", got)
	}
}

func TestExpand_Unterminated(t *testing.T) {
	_, err := Expand("${{ github.ref", testContext())
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("Expected ErrSyntax, got %v", err)
	}
}

func TestEvalBool_Conditions(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"github.event_name == 'push'", true},
		{"github.event_name == 'pull_request'", false},
		{"github.event_name != 'pull_request'", true},
		{"${{ github.ref == 'refs/heads/master' }}", true},
		{"!contains(github.ref, 'tags')", true},
		{"startsWith(github.ref, 'refs/heads/')", true},
		{"endsWith(github.ref, 'master')", true},
		{"github.event_name == 'push' && matrix.python-version == '3.10'", true},
		{"github.event_name == 'pull_request' || matrix.python-version == '3.10'", true},
		{"success()", true},
		{"failure()", false},
		{"always()", true},
		{"cancelled()", false},
		{"matrix.python-version == 3.10", true}, // numeric coercion
		{"missing.context == ''", true},
	}

	for _, tt := range tests {
		got, err := EvalBool(tt.expr, testContext())
		if err != nil {
			t.Errorf("EvalBool(%q) failed: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("EvalBool(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEval_Format(t *testing.T) {
	got, err := Eval("format('{0} on {1}', github.workflow, github.ref)", testContext())
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if got != "ci on refs/heads/master" {
		t.Errorf("Unexpected format result %q", got)
	}
}

func TestEval_StringEscape(t *testing.T) {
	got, err := Eval("'it''s fine'", testContext())
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if got != "it's fine" {
		t.Errorf("Expected escaped quote, got %q", got)
	}
}

func TestEval_UnknownFunction(t *testing.T) {
	_, err := Eval("fromJSON('[]')", testContext())
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("Expected ErrSyntax, got %v", err)
	}
}

func TestEvalBool_FailureStatus(t *testing.T) {
	ctx := testContext()
	ctx["job"]["status"] = "failed"

	got, err := EvalBool("failure()", ctx)
	if err != nil {
		t.Fatalf("EvalBool failed: %v", err)
	}
	if !got {
		t.Error("Expected failure() true when job status is failed")
	}

	got, err = EvalBool("success()", ctx)
	if err != nil {
		t.Fatalf("EvalBool failed: %v", err)
	}
	if got {
		t.Error("Expected success() false when job status is failed")
	}
}
