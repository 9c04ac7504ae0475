package schema

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is a problem found in a table definition.
type ValidationError struct {
	Table   string
	Column  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of schema validation. Errors make
// Create fail or produce a broken schema. Warnings flag definitions some
// databases reject.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range r.Errors {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			sb.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  - ")
			sb.WriteString(w.Error())
			sb.WriteString("\n")
		}
	}
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

// ValidateTable validates a single table definition.
func ValidateTable(t *Table) *ValidationResult {
	result := &ValidationResult{}

	if len(t.PrimaryKey) == 0 {
		result.Warnings = append(result.Warnings, &ValidationError{
			Table:   t.Name,
			Message: "table has no primary key",
		})
	}

	// Two properties mapped to one column.
	colNames := make(map[string]bool)
	for _, c := range t.Columns {
		if colNames[c.Name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Column:  c.Name,
				Message: "duplicate column name",
			})
		}
		colNames[c.Name] = true
	}

	identities := 0
	for _, c := range t.Columns {
		if c.Identity {
			identities++
		}
	}
	if identities > 1 {
		result.Errors = append(result.Errors, &ValidationError{
			Table:   t.Name,
			Message: fmt.Sprintf("%d identity columns", identities),
		})
	}

	for _, fk := range t.ForeignKeys {
		for i, col := range fk.Columns {
			if !colNames[col.Name] {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Message: fmt.Sprintf("foreign key %s references non-existent column %q", fk.Symbol, col.Name),
				})
				continue
			}
			if i < len(fk.RefColumns) && fk.RefColumns[i] != nil && fk.RefColumns[i].Type != col.Type {
				ref := fk.RefColumns[i]
				msg := fmt.Sprintf("foreign key %s: type %s does not match %s.%s type %s",
					fk.Symbol, col.Type, fk.RefTable.Name, ref.Name, ref.Type)
				result.Warnings = append(result.Warnings, &ValidationError{
					Table:   t.Name,
					Column:  col.Name,
					Message: msg,
				})
			}
		}
		if fk.RefTable != nil && !sameColumns(fk.RefColumns, fk.RefTable.PrimaryKey) {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   t.Name,
				Message: fmt.Sprintf("foreign key %s does not reference the primary key of %s", fk.Symbol, fk.RefTable.Name),
			})
		}
	}

	return result
}

// ValidateSchema validates all tables in a schema.
func ValidateSchema(tables []*Table) *ValidationResult {
	result := &ValidationResult{}

	tableNames := make(map[string]bool)
	symbols := make(map[string]string)
	for _, t := range tables {
		if tableNames[t.Name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Message: "duplicate table name",
			})
		}
		tableNames[t.Name] = true

		tableResult := ValidateTable(t)
		result.Errors = append(result.Errors, tableResult.Errors...)
		result.Warnings = append(result.Warnings, tableResult.Warnings...)

		// MySQL requires foreign key names to be unique per database.
		for _, fk := range t.ForeignKeys {
			if other, ok := symbols[fk.Symbol]; ok {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Message: fmt.Sprintf("foreign key name %s is also used by %s", fk.Symbol, other),
				})
			}
			symbols[fk.Symbol] = t.Name
		}
	}

	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == nil || !tableNames[fk.RefTable.Name] {
				ref := "<nil>"
				if fk.RefTable != nil {
					ref = fk.RefTable.Name
				}
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Message: fmt.Sprintf("foreign key references non-existent table %q", ref),
				})
			}
		}
	}

	return result
}

func sameColumns(a, b []*Column) bool {
	if len(a) != len(b) {
		return false
	}
	for _, c := range a {
		if !slices.Contains(b, c) {
			return false
		}
	}
	return true
}
