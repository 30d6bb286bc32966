package querysql

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/objidx/internal/filter"
	"github.com/roach88/objidx/internal/types"
)

// Dialect selects the SQL flavour the planner renders.
type Dialect int

const (
	// Postgres renders DISTINCT ON deduplication and $n placeholders.
	Postgres Dialect = iota
	// SQLite renders ROW_NUMBER() deduplication and ? placeholders.
	SQLite
)

// String returns the dialect name.
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// ParseDialect converts a dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unknown dialect %q: must be postgres or sqlite", s)
	}
}

// Relation names the generated queries read from.
const (
	HistoryTable  = "objects_history"
	ObjectsTable  = "objects"
	SnapshotTable = "objects_snapshot"
)

// Statement is an executable query with its positional arguments.
// Bounds and cursors are always arguments, never spliced into SQL.
type Statement struct {
	SQL  string
	Args []any
}

// Planner assembles complete object queries from compiled filter clauses.
//
// Planner is stateless apart from its configuration and safe for
// concurrent use.
type Planner struct {
	Dialect Dialect

	// LatestTable is the relation read by Latest. Defaults to ObjectsTable.
	LatestTable string
}

// NewPlanner creates a planner for the dialect reading live objects from
// the objects table.
func NewPlanner(d Dialect) *Planner {
	return &Planner{Dialect: d, LatestTable: ObjectsTable}
}

// WithLatestTable returns a copy of the planner whose Latest queries read
// from table (for example SnapshotTable).
func (p *Planner) WithLatestTable(table string) *Planner {
	cp := *p
	cp.LatestTable = table
	return &cp
}

// History plans a historical-as-of query: the newest version of each object
// among rows with checkpoint <= bound, restricted by the inner clause and the
// cursor, then filtered by status and the outer clause.
//
// Rows are ordered by object id ascending and the cursor excludes every id
// less than or equal to itself, so feeding the last returned id back as the
// next cursor pages through the full result without gaps or duplicates.
func (p *Planner) History(f filter.ObjectFilter, bound uint64, cursor *types.ObjectID, limit int, columns []string) (Statement, error) {
	proj, err := projection(outerAlias, columns)
	if err != nil {
		return Statement{}, err
	}
	if limit <= 0 {
		return Statement{}, fmt.Errorf("plan history query: limit must be positive, got %d", limit)
	}

	// Checkpoints are stored as signed 64-bit integers.
	if bound > math.MaxInt64 {
		bound = math.MaxInt64
	}
	args := []any{int64(bound)}
	where := fmt.Sprintf("o.checkpoint <= %s", p.placeholder(len(args)))
	if cursor != nil {
		args = append(args, cursor.String())
		where += fmt.Sprintf("\n      AND o.object_id > %s", p.placeholder(len(args)))
	}
	if inner, ok := CompileInner(f); ok {
		where += "\n      AND " + inner
	}

	var outer string
	if clause, ok := CompileOuter(f); ok {
		outer = "\nAND " + clause
	}

	var sql string
	switch p.Dialect {
	case SQLite:
		sql = fmt.Sprintf(`SELECT %s
FROM (SELECT o.*, ROW_NUMBER() OVER (PARTITION BY o.object_id ORDER BY o.version DESC, o.checkpoint DESC) AS rn
      FROM %s o
      WHERE %s) AS t1
WHERE t1.rn = 1
AND t1.object_status NOT IN (%s)%s
ORDER BY t1.object_id
LIMIT %d;`, proj, HistoryTable, where, nonLiveList(), outer, limit)
	default:
		// Order by checkpoint DESC so that, for the same version, the row from
		// the newest checkpoint at or below the bound wins. The ordering text
		// is fixed for compatibility with existing Postgres consumers of this
		// statement; version is ascending there, unlike the SQLite form.
		sql = fmt.Sprintf(`SELECT %s
FROM (SELECT DISTINCT ON (o.object_id) *
      FROM %s o
      WHERE %s
      ORDER BY o.object_id, version, o.checkpoint DESC) AS t1
WHERE t1.object_status NOT IN (%s)%s
LIMIT %d;`, proj, HistoryTable, where, nonLiveList(), outer, limit)
	}

	return Statement{SQL: sql, Args: args}, nil
}

// Latest plans a current-state query against LatestTable. Only a top-level
// AddressOwner filter is applied; other filters are ignored.
func (p *Planner) Latest(f filter.ObjectFilter, cursor *types.ObjectID, limit int, columns []string) (Statement, error) {
	proj, err := projection(innerAlias, columns)
	if err != nil {
		return Statement{}, err
	}
	if limit <= 0 {
		return Statement{}, fmt.Errorf("plan latest query: limit must be positive, got %d", limit)
	}
	table := p.LatestTable
	if table == "" {
		table = ObjectsTable
	}
	if !isColumnName(table) {
		return Statement{}, fmt.Errorf("plan latest query: invalid table name %q", table)
	}

	var args []any
	var cursorClause string
	if cursor != nil {
		args = append(args, cursor.String())
		cursorClause = fmt.Sprintf(" AND o.object_id > %s", p.placeholder(len(args)))
	}
	var clause string
	if c, ok := CompileLatest(f); ok {
		clause = " AND " + c
	}

	var order string
	if p.Dialect == SQLite {
		order = "\nORDER BY o.object_id"
	}

	sql := fmt.Sprintf(`SELECT %s
FROM %s o WHERE o.object_status NOT IN (%s)%s%s%s
LIMIT %d;`, proj, table, nonLiveList(), cursorClause, clause, order, limit)

	return Statement{SQL: sql, Args: args}, nil
}

// placeholder returns the n-th (1-based) positional parameter.
func (p *Planner) placeholder(n int) string {
	if p.Dialect == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// projection qualifies the requested columns with the row alias.
// Columns must be "*" or plain identifiers; the list is never rewritten.
func projection(alias string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("plan query: empty projection")
	}
	parts := make([]string, len(columns))
	for i, c := range columns {
		if c != "*" && !isColumnName(c) {
			return "", fmt.Errorf("plan query: invalid column %q", c)
		}
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", "), nil
}

// isColumnName reports whether s is a lowercase SQL identifier.
func isColumnName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// nonLiveList renders the excluded statuses as a SQL list.
func nonLiveList() string {
	parts := make([]string, len(types.NonLiveStatuses))
	for i, s := range types.NonLiveStatuses {
		parts[i] = quote(string(s))
	}
	return strings.Join(parts, ", ")
}
