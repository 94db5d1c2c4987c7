package qa

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"reconworks/internal/models"
	"reconworks/pkg/logger"
)

// Supported policy operators
const (
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpEqual        = "=="
	OpNotEqual     = "!="
)

// Compare evaluates `column[i] <op> value` for a whole column of one record
// kind.
//
// The comparison is numeric when value parses as a number and at least one
// cell of the column does. Cells that do not parse then compare as NaN, which
// is false for every operator except !=. Otherwise the column is compared as
// text, where only == and != are defined and every other operator is false.
// The numeric/text choice is made once per column, not per cell.
func Compare(column []string, op, value string) []bool {
	result := make([]bool, len(column))

	if v, ok := parseNumber(value); ok {
		nums := make([]float64, len(column))
		anyNumeric := false
		for i, cell := range column {
			if n, ok := parseNumber(cell); ok {
				nums[i] = n
				anyNumeric = true
			} else {
				nums[i] = math.NaN()
			}
		}
		if anyNumeric {
			if cmp, ok := numericOps[op]; ok {
				for i, n := range nums {
					result[i] = cmp(n, v)
				}
				return result
			}
		}
	}

	switch op {
	case OpEqual:
		for i, cell := range column {
			result[i] = cell == value
		}
	case OpNotEqual:
		for i, cell := range column {
			result[i] = cell != value
		}
	}
	return result
}

var numericOps = map[string]func(a, b float64) bool{
	OpGreater:      func(a, b float64) bool { return a > b },
	OpGreaterEqual: func(a, b float64) bool { return a >= b },
	OpLess:         func(a, b float64) bool { return a < b },
	OpLessEqual:    func(a, b float64) bool { return a <= b },
	OpEqual:        func(a, b float64) bool { return a == b },
	OpNotEqual:     func(a, b float64) bool { return a != b },
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) {
		return 0, false
	}
	return n, true
}

// applyPolicyRules flags records hit by the rules that cover kind. Rules
// naming an unknown field or no operator are skipped.
func applyPolicyRules(fs *flagSet, kind models.RecordType, records []models.FactRecord, rules []models.PolicyRule, log logger.Logger) {
	if len(records) == 0 {
		return
	}

	for _, rule := range rules {
		if !rule.AppliesTo.Covers(kind) {
			continue
		}
		if rule.Operator == "" {
			continue
		}
		if _, ok := numericOps[rule.Operator]; !ok {
			log.WithFields(logger.Fields{"flag_code": rule.FlagCode, "op": rule.Operator}).
				Warn("Unknown policy operator; rule never matches")
		}

		column := make([]string, len(records))
		known := true
		for i := range records {
			value, ok := records[i].Field(kind, rule.Field)
			if !ok {
				known = false
				break
			}
			column[i] = value
		}
		if !known {
			log.WithFields(logger.Fields{"flag_code": rule.FlagCode, "field": rule.Field, "record_type": kind}).
				Debug("Policy rule field not present; rule skipped")
			continue
		}

		message := rule.Message
		if message == "" {
			message = fmt.Sprintf("Policy rule hit: %s %s %s", rule.Field, rule.Operator, rule.Value)
		}
		severity := rule.Severity
		if severity == "" {
			severity = models.SeverityWarning
		}

		for i, hit := range Compare(column, rule.Operator, rule.Value) {
			if hit {
				fs.add(kind, &records[i], rule.FlagCode, severity, message)
			}
		}
	}
}
