// Package parsers loads the reference rule sets that drive a reconciliation
// run: vendor alias rules and policy rules, both stored as CSV files with a
// header row.
//
// A missing rule file is not an error; it yields an empty rule set. Rows that
// cannot form a rule (blank pattern, blank flag code) are skipped. Only a file
// that exists but cannot be read as CSV, or lacks a required column, fails.
package parsers

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"reconworks/internal/models"
	"reconworks/pkg/errors"
	"reconworks/pkg/logger"
)

// Alias rule columns
const (
	ColumnPattern         = "pattern"
	ColumnCanonicalVendor = "canonical_vendor"
)

// Policy rule columns
const (
	ColumnFlagCode  = "flag_code"
	ColumnField     = "field"
	ColumnOperator  = "op"
	ColumnValue     = "value"
	ColumnSeverity  = "severity"
	ColumnMessage   = "message"
	ColumnAppliesTo = "applies_to"
)

// csvTable is a header-indexed CSV file held in memory
type csvTable struct {
	path      string
	headerMap map[string]int
	rows      [][]string
}

func (t *csvTable) get(row []string, column string) string {
	idx, ok := t.headerMap[column]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (t *csvTable) require(columns ...string) error {
	for _, c := range columns {
		if _, ok := t.headerMap[c]; !ok {
			return errors.ParseError(errors.CodeMissingColumn, t.path, c, nil)
		}
	}
	return nil
}

// readCSV reads a whole rule file. The bool result is false when the file
// does not exist.
func readCSV(path string) (*csvTable, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		if os.IsPermission(err) {
			return nil, false, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, false, errors.FileError(errors.CodeDirectoryError, path, err)
	}
	defer file.Close()

	return parseCSV(path, file)
}

func parseCSV(path string, r io.Reader) (*csvTable, bool, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return &csvTable{path: path, headerMap: map[string]int{}}, true, nil
	}
	if err != nil {
		return nil, true, errors.ParseError(errors.CodeInvalidFormat, path, "", err)
	}

	table := &csvTable{path: path, headerMap: make(map[string]int, len(header))}
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		table.headerMap[strings.ToLower(strings.TrimSpace(h))] = i
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, true, errors.ParseError(errors.CodeInvalidFormat, path, "", err)
		}
		table.rows = append(table.rows, row)
	}

	return table, true, nil
}

// LoadAliasRules reads vendor alias rules in file order
func LoadAliasRules(path string) ([]models.VendorAliasRule, error) {
	log := logger.GetGlobalLogger().WithComponent("parsers").WithField("file", path)

	table, found, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if !found {
		log.Warn("Vendor alias file not found; using no alias rules")
		return []models.VendorAliasRule{}, nil
	}
	return aliasRulesFromTable(table, log)
}

// ParseAliasRules reads vendor alias rules from an open CSV stream
func ParseAliasRules(name string, r io.Reader) ([]models.VendorAliasRule, error) {
	table, _, err := parseCSV(name, r)
	if err != nil {
		return nil, err
	}
	return aliasRulesFromTable(table, logger.GetGlobalLogger().WithComponent("parsers").WithField("file", name))
}

func aliasRulesFromTable(table *csvTable, log logger.Logger) ([]models.VendorAliasRule, error) {
	if len(table.headerMap) == 0 {
		return []models.VendorAliasRule{}, nil
	}
	if err := table.require(ColumnPattern, ColumnCanonicalVendor); err != nil {
		return nil, err
	}

	rules := make([]models.VendorAliasRule, 0, len(table.rows))
	skipped := 0
	for _, row := range table.rows {
		pattern := table.get(row, ColumnPattern)
		canonical := table.get(row, ColumnCanonicalVendor)
		if pattern == "" || canonical == "" {
			skipped++
			continue
		}
		rules = append(rules, models.VendorAliasRule{Pattern: pattern, CanonicalVendor: canonical})
	}

	log.WithFields(logger.Fields{"rules": len(rules), "skipped": skipped}).Debug("Loaded vendor alias rules")
	return rules, nil
}

// LoadPolicyRules reads policy rules in file order. Severity defaults to
// warning and scope to both record types.
func LoadPolicyRules(path string) ([]models.PolicyRule, error) {
	log := logger.GetGlobalLogger().WithComponent("parsers").WithField("file", path)

	table, found, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if !found {
		log.Warn("Policy rule file not found; using no policy rules")
		return []models.PolicyRule{}, nil
	}
	return policyRulesFromTable(table, log)
}

// ParsePolicyRules reads policy rules from an open CSV stream
func ParsePolicyRules(name string, r io.Reader) ([]models.PolicyRule, error) {
	table, _, err := parseCSV(name, r)
	if err != nil {
		return nil, err
	}
	return policyRulesFromTable(table, logger.GetGlobalLogger().WithComponent("parsers").WithField("file", name))
}

func policyRulesFromTable(table *csvTable, log logger.Logger) ([]models.PolicyRule, error) {
	if len(table.headerMap) == 0 {
		return []models.PolicyRule{}, nil
	}
	if err := table.require(ColumnFlagCode); err != nil {
		return nil, err
	}

	rules := make([]models.PolicyRule, 0, len(table.rows))
	for _, row := range table.rows {
		code := table.get(row, ColumnFlagCode)
		if code == "" {
			continue
		}

		severity := models.Severity(strings.ToLower(table.get(row, ColumnSeverity)))
		if severity == "" {
			severity = models.SeverityWarning
		} else if !severity.IsValid() {
			log.WithFields(logger.Fields{"flag_code": code, "severity": severity}).
				Warn("Unknown policy rule severity; using warning")
			severity = models.SeverityWarning
		}

		scope := models.AppliesTo(table.get(row, ColumnAppliesTo))
		if scope == "" {
			scope = models.AppliesToBoth
		}

		rules = append(rules, models.PolicyRule{
			FlagCode:  code,
			Field:     table.get(row, ColumnField),
			Operator:  table.get(row, ColumnOperator),
			Value:     table.get(row, ColumnValue),
			Severity:  severity,
			Message:   table.get(row, ColumnMessage),
			AppliesTo: scope,
		})
	}

	log.WithField("rules", len(rules)).Debug("Loaded policy rules")
	return rules, nil
}

// ColumnVendorRaw is the default column read by ReadVendorColumn
const ColumnVendorRaw = "vendor_raw"

// ReadVendorColumn returns the values of one column of a CSV stream in row
// order. Short rows yield an empty value.
func ReadVendorColumn(name string, r io.Reader, column string) ([]string, error) {
	if column == "" {
		column = ColumnVendorRaw
	}
	table, _, err := parseCSV(name, r)
	if err != nil {
		return nil, err
	}
	column = strings.ToLower(column)
	if err := table.require(column); err != nil {
		return nil, err
	}

	idx := table.headerMap[column]
	out := make([]string, 0, len(table.rows))
	for _, row := range table.rows {
		if idx >= len(row) {
			out = append(out, "")
			continue
		}
		out = append(out, row[idx])
	}
	return out, nil
}
