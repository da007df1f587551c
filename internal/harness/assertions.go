package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/enrolsync/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, describeEvent(event))
		}
	}
	return buf.String()
}

func describeEvent(ev TraceEvent) string {
	parts := []string{ev.Type}
	if ev.Source != "" {
		parts = append(parts, "source="+ev.Source)
	}
	if ev.Course != "" {
		parts = append(parts, "course="+ev.Course)
	}
	if ev.User != "" {
		parts = append(parts, "user="+ev.User)
	}
	if ev.RoleID != 0 {
		parts = append(parts, fmt.Sprintf("role=%d", ev.RoleID))
	}
	if ev.Detail != "" {
		parts = append(parts, ev.Detail)
	}
	return strings.Join(parts, " ")
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context

	// Roles maps role shortnames to ids for role filters.
	Roles map[string]int64
}

// matchEvent reports whether ev is of the assertion's action and passes
// its course, user, role and source filters.
func matchEvent(ev TraceEvent, a Assertion, roles map[string]int64) bool {
	if ev.Type != a.Action {
		return false
	}
	if a.Course != "" && ev.Course != a.Course {
		return false
	}
	if a.User != "" && ev.User != a.User {
		return false
	}
	if a.Source != "" && ev.Source != a.Source {
		return false
	}
	if a.Role != "" {
		id, ok := roles[a.Role]
		if !ok || ev.RoleID != id {
			return false
		}
	}
	return true
}

func describeFilter(a Assertion) string {
	desc := a.Action
	for _, kv := range [][2]string{{"course", a.Course}, {"user", a.User}, {"role", a.Role}, {"source", a.Source}} {
		if kv[1] != "" {
			desc += fmt.Sprintf(" %s=%s", kv[0], kv[1])
		}
	}
	return desc
}

// assertTraceContains checks if the trace contains an event matching the
// assertion's action and filters.
func assertTraceContains(trace []TraceEvent, assertion Assertion, roles map[string]int64) error {
	for _, event := range trace {
		if matchEvent(event, assertion, roles) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeFilter(assertion),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if event types first appear in the specified
// order. Intervening events are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		for _, expected := range assertion.Actions {
			if event.Type == expected && positions[expected] == 0 {
				positions[expected] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []TraceEvent, assertion Assertion, roles map[string]int64) error {
	count := 0
	for _, event := range trace {
		if matchEvent(event, assertion, roles) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, describeFilter(assertion)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertEnrolment checks whether the user holds a role in the course, or
// the given role when Role is set. want selects enrolled or not_enrolled.
func assertEnrolment(actx *AssertionContext, assertion Assertion, want bool) error {
	var n int
	err := actx.Store.DB().QueryRowContext(actx.Ctx, `
		SELECT COUNT(*) FROM role_assignments ra
		INNER JOIN courses c ON c.id = ra.courseid
		INNER JOIN users u ON u.id = ra.userid
		INNER JOIN roles r ON r.id = ra.roleid
		WHERE c.idnumber = ? AND u.username = ? AND (? = '' OR r.shortname = ?)
	`, assertion.Course, assertion.User, assertion.Role, assertion.Role).Scan(&n)
	if err != nil {
		return fmt.Errorf("%s: query role assignments: %w", assertion.Type, err)
	}

	if (n > 0) == want {
		return nil
	}
	what := fmt.Sprintf("%s in %s", assertion.User, assertion.Course)
	if assertion.Role != "" {
		what += " as " + assertion.Role
	}
	if want {
		return &AssertionError{Type: assertion.Type, Expected: what, Actual: "no role assignment"}
	}
	return &AssertionError{Type: assertion.Type, Expected: "no " + what, Actual: fmt.Sprintf("%d role assignments", n)}
}

// assertStrings compares an exact list, treating nil and empty alike.
func assertStrings(typ string, want, got []string) error {
	if len(want) == 0 && len(got) == 0 {
		return nil
	}
	if reflect.DeepEqual(want, got) {
		return nil
	}
	return &AssertionError{Type: typ, Expected: fmt.Sprintf("%v", want), Actual: fmt.Sprintf("%v", got)}
}

func assertOrphans(result *Result, assertion Assertion) error {
	var got []string
	if result.Run != nil {
		got = result.Run.Orphans
	}
	return assertStrings(AssertOrphans, assertion.Codes, got)
}

func assertErrorKinds(result *Result, assertion Assertion) error {
	var got []string
	if result.Run != nil {
		for _, se := range result.Run.Errors {
			got = append(got, string(se.Kind))
		}
	}
	return assertStrings(AssertErrors, assertion.Kinds, got)
}

// assertNotified checks that a sent message's subject contains Subject
// and, when To is set, that To was among its recipients.
func assertNotified(result *Result, assertion Assertion) error {
	for _, msg := range result.Messages {
		if !strings.Contains(msg.Subject, assertion.Subject) {
			continue
		}
		if assertion.To == "" {
			return nil
		}
		for _, r := range msg.Recipients {
			if r == assertion.To {
				return nil
			}
		}
	}

	subjects := make([]string, 0, len(result.Messages))
	for _, msg := range result.Messages {
		subjects = append(subjects, fmt.Sprintf("%q to %v", msg.Subject, msg.Recipients))
	}
	expected := fmt.Sprintf("message with subject containing %q", assertion.Subject)
	if assertion.To != "" {
		expected += " to " + assertion.To
	}
	return &AssertionError{
		Type:     AssertNotified,
		Expected: expected,
		Actual:   fmt.Sprintf("sent: [%s]", strings.Join(subjects, ", ")),
	}
}

// assertFinalState checks that exactly one row of the table matches Where
// and that it carries the Expect values.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]interface{}, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	// Subset semantics: only fields named in Expect are checked.
	keys := sortedKeys(assertion.Expect)
	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-decoded value to a SQL argument.
func toSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML-decoded expectation with a SQLite value.
// SQLite returns integers as int64 and text as string or []byte.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		s, ok := actual.(string)
		return ok && exp == s
	case int:
		n, ok := actual.(int64)
		return ok && int64(exp) == n
	case int64:
		n, ok := actual.(int64)
		return ok && exp == n
	case bool:
		if b, ok := actual.(bool); ok {
			return exp == b
		}
		// SQLite stores booleans as integers
		n, ok := actual.(int64)
		return ok && exp == (n != 0)
	}
	return reflect.DeepEqual(expected, actual)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	var roles map[string]int64
	if actx != nil {
		roles = actx.Roles
	}

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion, roles)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion, roles)
		case AssertOrphans:
			err = assertOrphans(result, assertion)
		case AssertErrors:
			err = assertErrorKinds(result, assertion)
		case AssertNotified:
			err = assertNotified(result, assertion)
		case AssertEnrolled, AssertNotEnrolled, AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("%s assertion requires database access", assertion.Type)
			} else if assertion.Type == AssertFinalState {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertEnrolment(actx, assertion, assertion.Type == AssertEnrolled)
			}
		default:
			err = fmt.Errorf("unknown assertion type: %s", assertion.Type)
		}

		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, assertion.Type, err))
		}
	}
	return errs
}
