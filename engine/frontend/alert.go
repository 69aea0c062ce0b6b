package frontend

import (
	"github.com/google/uuid"

	"github.com/99souls/zensight/engine/config"
)

// AlertOperator is the comparison an AlertRule applies to an incoming
// metric value.
type AlertOperator string

const (
	OpGreaterThan  AlertOperator = ">"
	OpLessThan     AlertOperator = "<"
	OpGreaterEqual AlertOperator = ">="
	OpLessEqual    AlertOperator = "<="
	OpEqual        AlertOperator = "=="
	OpNotEqual     AlertOperator = "!="
)

func (op AlertOperator) valid() bool {
	switch op {
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return true
	default:
		return false
	}
}

// AlertRule is the frontend contract's alert definition (spec §6:
// "alert rules with severity ∈ {Critical,Warning,Info}").
//
// ID identifies a rule across edits so a visualizer can track one rule's
// firing history even after its threshold or severity changes; it is
// assigned once and never recomputed from the rule's other fields.
type AlertRule struct {
	ID        string               `yaml:"id"`
	Metric    string               `yaml:"metric"`
	Operator  AlertOperator        `yaml:"operator"`
	Threshold float64              `yaml:"threshold"`
	Severity  config.AlertSeverity `yaml:"severity"`
}

// NewAlertRule builds a rule with a freshly assigned ID.
func NewAlertRule(metric string, op AlertOperator, threshold float64, severity config.AlertSeverity) AlertRule {
	return AlertRule{
		ID:        uuid.NewString(),
		Metric:    metric,
		Operator:  op,
		Threshold: threshold,
		Severity:  severity,
	}
}

// Evaluate reports whether value trips rule's threshold.
func Evaluate(rule AlertRule, value float64) bool {
	switch rule.Operator {
	case OpGreaterThan:
		return value > rule.Threshold
	case OpLessThan:
		return value < rule.Threshold
	case OpGreaterEqual:
		return value >= rule.Threshold
	case OpLessEqual:
		return value <= rule.Threshold
	case OpEqual:
		return value == rule.Threshold
	case OpNotEqual:
		return value != rule.Threshold
	default:
		return false
	}
}

// Firing filters rules to those matching metric by name whose threshold
// value trips against value, in rule order.
func Firing(rules []AlertRule, metric string, value float64) []AlertRule {
	var fired []AlertRule
	for _, r := range rules {
		if r.Metric != metric {
			continue
		}
		if Evaluate(r, value) {
			fired = append(fired, r)
		}
	}
	return fired
}
