package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "kit k1 references missing sound s9"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "missing sound s9") {
		t.Fatalf("expected blocking message in error, got %q", err.Error())
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRuleViolationErrorWithoutMessage(t *testing.T) {
	err := RuleViolationError{Result: Result{Violations: []Violation{{Rule: "x", Severity: SeverityBlock}}}}
	if err.Error() != "transaction blocked by rules" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
	if got := engine.Rules(); len(got) != 1 || got[0] != "warn" {
		t.Fatalf("unexpected rule names %v", got)
	}
}

func TestRulesEngineEvaluatePropagatesError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(failingRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected rule error")
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type failingRule struct{}

func (failingRule) Name() string { return "fail" }

func (failingRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, errors.New("boom")
}

type emptyView struct{}

func (emptyView) ListSounds() []Sound                  { return nil }
func (emptyView) ListKits() []Kit                      { return nil }
func (emptyView) ListWorkItems() []WorkItem            { return nil }
func (emptyView) ListTasks() []Task                    { return nil }
func (emptyView) FindSound(string) (Sound, bool)       { return Sound{}, false }
func (emptyView) FindKit(string) (Kit, bool)           { return Kit{}, false }
func (emptyView) FindWorkItem(string) (WorkItem, bool) { return WorkItem{}, false }
func (emptyView) FindTask(string) (Task, bool)         { return Task{}, false }

func TestInvalidfIsValidationError(t *testing.T) {
	err := fmt.Errorf("create kit: %w", Invalidf("kit %q name required", "k1"))
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError in %v", err)
	}
	if ve.Message != `kit "k1" name required` {
		t.Fatalf("message = %q", ve.Message)
	}
	if _, err := ParseDeliveryStatus("shipped"); !errors.As(err, &ve) {
		t.Fatalf("unknown status should be a validation error, got %v", err)
	}
}
