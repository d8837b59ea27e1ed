package compensator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sharedcode/ctxn"
)

// identifierPattern constrains table and column names accepted from a
// captured OperationRecord to a safe, quoteable identifier shape before they
// are ever interpolated into a query string. Values themselves always go
// through parameter placeholders, never interpolation (spec.md §4.4
// invariant (c): "no string-built values in inverse queries").
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// nativeQueryAllowedPrefixes are the only statement forms a native-query
// inverse may begin with (spec.md §4.4 "Secure inverse queries").
var nativeQueryAllowedPrefixes = []string{"UPDATE", "INSERT", "DELETE", "CALL"}

// schemaMutatingKeywords are rejected anywhere in a native-query inverse,
// even past an allowed prefix (e.g. a stacked statement smuggled in via a
// semicolon), per the same paragraph's "contain no schema-modifying
// keywords" requirement.
var schemaMutatingKeywords = []string{"DROP", "ALTER", "TRUNCATE", "CREATE", "GRANT", "REVOKE"}

// validateNativeQuery enforces spec.md §4.4's native-query inverse contract:
// the statement must begin with UPDATE, INSERT, DELETE, or CALL, and must
// contain no schema-modifying keyword.
func validateNativeQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("compensator: native query operation has no inverseQuery")
	}
	upper := strings.ToUpper(trimmed)
	allowed := false
	for _, prefix := range nativeQueryAllowedPrefixes {
		if strings.HasPrefix(upper, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("compensator: inverse query must begin with UPDATE, INSERT, DELETE, or CALL, got %q", trimmed)
	}
	for _, kw := range schemaMutatingKeywords {
		if containsWord(upper, kw) {
			return fmt.Errorf("compensator: inverse query contains schema-modifying keyword %q", kw)
		}
	}
	return nil
}

// containsWord reports whether kw appears in s as a standalone word rather
// than as a substring of a longer identifier.
func containsWord(s, kw string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		before := byte(' ')
		if start > 0 {
			before = s[start-1]
		}
		after := byte(' ')
		if end < len(s) {
			after = s[end]
		}
		if !isIdentChar(before) && !isIdentChar(after) {
			return true
		}
		idx = start + 1
	}
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// validateProcedureName enforces the same strict identifier pattern spec.md
// §4.4 requires of a compensating procedure name.
func validateProcedureName(name string) error {
	if !validIdentifier(name) {
		return fmt.Errorf("compensator: unsafe inverse procedure name %q", name)
	}
	return nil
}

// inverseFor computes the parameterized inverse statement for op. Only
// identifiers (table/column names) are interpolated, and only after passing
// validIdentifier; every data value travels as a placeholder argument.
func inverseFor(op *ctxn.OperationRecord) (string, []any, error) {
	switch op.OperationType {
	case ctxn.OpInsert:
		return inverseInsert(op)
	case ctxn.OpUpdate:
		return inverseUpdate(op)
	case ctxn.OpDelete:
		return inverseDelete(op)
	case ctxn.OpBulkUpdate:
		return inverseBulk(op, op.AffectedEntities)
	case ctxn.OpBulkDelete:
		return inverseBulk(op, op.AffectedEntities)
	case ctxn.OpNativeQuery:
		return inverseNativeQuery(op)
	case ctxn.OpStoredProcedure:
		return inverseStoredProcedure(op)
	default:
		return "", nil, fmt.Errorf("compensator: unknown operation type %v", op.OperationType)
	}
}

// inverseInsert deletes the row the original INSERT created, by entityId —
// the only case where snapshot is inherently empty (spec.md §3: no pre-image
// exists for a row that did not yet exist).
func inverseInsert(op *ctxn.OperationRecord) (string, []any, error) {
	if !validIdentifier(op.EntityClass) {
		return "", nil, fmt.Errorf("compensator: unsafe entity class %q", op.EntityClass)
	}
	if op.EntityID == "" {
		return "", nil, fmt.Errorf("compensator: insert inverse requires entityId")
	}
	return fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, op.EntityClass), []any{op.EntityID}, nil
}

// inverseUpdate restores every column captured in the pre-image snapshot.
func inverseUpdate(op *ctxn.OperationRecord) (string, []any, error) {
	if !validIdentifier(op.EntityClass) {
		return "", nil, fmt.Errorf("compensator: unsafe entity class %q", op.EntityClass)
	}
	if len(op.Snapshot) == 0 {
		return "", nil, nil
	}
	return buildUpdateQuery(op.EntityClass, op.EntityID, op.Snapshot)
}

// inverseDelete reinserts the deleted row unchanged.
func inverseDelete(op *ctxn.OperationRecord) (string, []any, error) {
	if !validIdentifier(op.EntityClass) {
		return "", nil, fmt.Errorf("compensator: unsafe entity class %q", op.EntityClass)
	}
	if len(op.Snapshot) == 0 {
		return "", nil, fmt.Errorf("compensator: delete inverse requires a captured snapshot")
	}
	return buildInsertQuery(op.EntityClass, op.Snapshot)
}

// inverseBulk restores every affected row's pre-image in one statement per
// row, returned here joined with semicolons since this module executes the
// result as a single ExecContext call; callers that need per-row error
// isolation should instead capture bulk operations as individual entries.
func inverseBulk(op *ctxn.OperationRecord, affected []map[string]any) (string, []any, error) {
	if !validIdentifier(op.EntityClass) {
		return "", nil, fmt.Errorf("compensator: unsafe entity class %q", op.EntityClass)
	}
	if len(affected) == 0 {
		return "", nil, nil
	}
	var stmts []string
	var args []any
	placeholder := 1
	for _, row := range affected {
		id, ok := row["id"]
		if !ok {
			return "", nil, fmt.Errorf("compensator: bulk affected row missing id")
		}
		var q string
		var rowArgs []any
		var err error
		if op.OperationType == ctxn.OpBulkDelete {
			q, rowArgs, err = buildInsertQueryFrom(op.EntityClass, row, &placeholder)
		} else {
			q, rowArgs, err = buildUpdateQueryFrom(op.EntityClass, fmt.Sprintf("%v", id), row, &placeholder)
		}
		if err != nil {
			return "", nil, err
		}
		stmts = append(stmts, q)
		args = append(args, rowArgs...)
	}
	return strings.Join(stmts, "; "), args, nil
}

// inverseNativeQuery returns the caller-supplied inverse verbatim once it has
// passed validateNativeQuery. The caller is a trusted business method
// running inside the same process, not an external input, but this module
// still refuses to run anything that does not start with UPDATE, INSERT,
// DELETE, or CALL or that contains a schema-modifying keyword (spec.md §4.4
// "Secure inverse queries"). The check does not detect values inlined into
// the statement text; op.QueryParameters are passed as bind arguments.
func inverseNativeQuery(op *ctxn.OperationRecord) (string, []any, error) {
	if err := validateNativeQuery(op.InverseQuery); err != nil {
		return "", nil, err
	}
	return op.InverseQuery, op.QueryParameters, nil
}

// inverseStoredProcedure calls the registered compensating procedure by
// name, validated against the same identifier pattern as table names so a
// procedure name can never carry injected SQL.
func inverseStoredProcedure(op *ctxn.OperationRecord) (string, []any, error) {
	if err := validateProcedureName(op.InverseProcedure); err != nil {
		return "", nil, err
	}
	placeholders := make([]string, len(op.QueryParameters))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("CALL %s(%s)", op.InverseProcedure, strings.Join(placeholders, ", ")), op.QueryParameters, nil
}

func buildUpdateQuery(table, entityID string, snapshot map[string]any) (string, []any, error) {
	p := 1
	return buildUpdateQueryFrom(table, entityID, snapshot, &p)
}

func buildUpdateQueryFrom(table, entityID string, snapshot map[string]any, placeholder *int) (string, []any, error) {
	cols := sortedKeys(snapshot)
	var sets []string
	var args []any
	for _, col := range cols {
		if col == "id" {
			continue
		}
		if !validIdentifier(col) {
			return "", nil, fmt.Errorf("compensator: unsafe column name %q", col)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, *placeholder))
		args = append(args, snapshot[col])
		*placeholder++
	}
	idPlaceholder := *placeholder
	args = append(args, entityID)
	*placeholder++
	return fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, table, strings.Join(sets, ", "), idPlaceholder), args, nil
}

func buildInsertQuery(table string, row map[string]any) (string, []any, error) {
	p := 1
	return buildInsertQueryFrom(table, row, &p)
}

func buildInsertQueryFrom(table string, row map[string]any, placeholder *int) (string, []any, error) {
	cols := sortedKeys(row)
	var placeholders []string
	var args []any
	for _, col := range cols {
		if !validIdentifier(col) {
			return "", nil, fmt.Errorf("compensator: unsafe column name %q", col)
		}
		placeholders = append(placeholders, fmt.Sprintf("$%d", *placeholder))
		args = append(args, row[col])
		*placeholder++
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, strings.Join(cols, ", "), strings.Join(placeholders, ", ")), args, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
