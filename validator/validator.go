// Package validator implements the pre-commit validation gate of spec.md
// §4.6: it inspects a transaction's captured operations and risk metrics,
// producing a list of issues and a canProceed verdict. Risk predicates are
// expressed as CEL expressions (google/cel-go) so an operator can reconfigure
// the rule set without a redeploy — the teacher has no direct analogue for
// this (its validation is structural B-tree integrity, not business risk),
// so this package's rule-evaluation shape is grounded on the CEL library's
// own idiomatic compile-once/eval-many usage instead, and its plumbing
// (closed vocabulary enum, static severity table) carries over directly from
// ctxn.RiskFlag / ctxn.RiskFlagSeverity.
package validator

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"

	"github.com/sharedcode/ctxn"
)

// IssueLevel is the severity of a single validation finding.
type IssueLevel int

const (
	LevelWarning IssueLevel = iota
	LevelError
)

// Issue is one validation finding against a transaction record.
type Issue struct {
	Flag    ctxn.RiskFlag
	Level   IssueLevel
	Message string
}

// Result is the validator's verdict for a transaction.
type Result struct {
	Issues     []Issue
	CanProceed bool
}

// Rule is a single CEL-compiled risk predicate, evaluated against a CEL
// activation built from the transaction record's risk metrics and operation
// counts.
type Rule struct {
	Flag    ctxn.RiskFlag
	Level   IssueLevel
	Message string
	program cel.Program
}

// Validator holds the compiled rule set and the CEL environment it was
// compiled against.
type Validator struct {
	env   *cel.Env
	rules []Rule
	probe *SchemaProbe
}

// New builds a Validator. expressions maps a RiskFlag to the CEL boolean
// expression that activates it; each expression may reference the variables
// `riskMetrics` (map[string]int), `operationCount` (int) and `hasNativeSQL`,
// `hasStoredProcedure`, `hasBulkDelete` (bool).
func New(probe *SchemaProbe, expressions map[ctxn.RiskFlag]string) (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("riskMetrics", cel.MapType(cel.StringType, cel.IntType)),
		cel.Variable("operationCount", cel.IntType),
		cel.Variable("hasNativeSQL", cel.BoolType),
		cel.Variable("hasStoredProcedure", cel.BoolType),
		cel.Variable("hasBulkDelete", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("validator: build CEL env: %w", err)
	}
	v := &Validator{env: env, probe: probe}
	for flag, expr := range expressions {
		rule, err := v.compile(flag, levelForFlag(flag), expr)
		if err != nil {
			return nil, err
		}
		v.rules = append(v.rules, rule)
	}
	return v, nil
}

func (v *Validator) compile(flag ctxn.RiskFlag, level IssueLevel, expr string) (Rule, error) {
	ast, issues := v.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Rule{}, fmt.Errorf("validator: compile rule for %s: %w", flag, issues.Err())
	}
	prg, err := v.env.Program(ast)
	if err != nil {
		return Rule{}, fmt.Errorf("validator: program for %s: %w", flag, err)
	}
	return Rule{Flag: flag, Level: level, Message: string(flag) + " threshold exceeded", program: prg}, nil
}

// Validate evaluates every compiled rule against rec and runs the schema
// probe over every datasource/table pair the record's operations touched,
// per spec.md §4.6 "structural risk" + "business risk" combined gate.
func (v *Validator) Validate(rec *ctxn.TransactionRecord) Result {
	var issues []Issue

	activation := map[string]any{
		"riskMetrics":        intMap(rec.RiskMetrics),
		"operationCount":     len(rec.Operations),
		"hasNativeSQL":       containsOp(rec, ctxn.OpNativeQuery),
		"hasStoredProcedure": containsOp(rec, ctxn.OpStoredProcedure),
		"hasBulkDelete":      containsOp(rec, ctxn.OpBulkDelete),
	}

	for _, rule := range v.rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			issues = append(issues, Issue{Flag: rule.Flag, Level: LevelError, Message: "rule evaluation error: " + err.Error()})
			continue
		}
		if boolValue(out) {
			issues = append(issues, Issue{Flag: rule.Flag, Level: rule.Level, Message: rule.Message})
		}
	}

	if v.probe != nil {
		for _, op := range rec.Operations {
			if op.EntityClass == "" {
				continue
			}
			if err := v.probe.Check(op.Datasource, op.EntityClass); err != nil {
				issues = append(issues, Issue{
					Flag:    ctxn.RiskTriggerSuspected,
					Level:   levelForFlag(ctxn.RiskTriggerSuspected),
					Message: fmt.Sprintf("schema probe for %s.%s: %v", op.Datasource, op.EntityClass, err),
				})
			}
		}
	}

	canProceed := true
	for _, iss := range issues {
		if iss.Level == LevelError {
			canProceed = false
			break
		}
	}
	return Result{Issues: issues, CanProceed: canProceed}
}

func containsOp(rec *ctxn.TransactionRecord, t ctxn.OperationType) bool {
	for _, op := range rec.Operations {
		if op.OperationType == t {
			return true
		}
	}
	return false
}

// levelForFlag maps a risk flag's static severity (spec.md §4.6) to the
// issue level that escalates canProceed, so a CRITICAL flag raised by any
// source - a compiled CEL rule or the schema probe alike - blocks the
// commit the same way.
func levelForFlag(flag ctxn.RiskFlag) IssueLevel {
	if ctxn.RiskFlagSeverity[flag] >= ctxn.SeverityHigh {
		return LevelError
	}
	return LevelWarning
}

func intMap(m map[ctxn.RiskFlag]int) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[string(k)] = int64(v)
	}
	return out
}

func boolValue(v ref.Val) bool {
	b, ok := v.Value().(bool)
	return ok && b
}
