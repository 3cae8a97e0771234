package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/value"
)

// Query is a compiled SELECT statement.
type Query struct {
	// Text is the SQL statement with dialect placeholders.
	Text string

	// Args are the bind values, in placeholder order.
	Args []any

	// Columns describes each result column, in select order.
	Columns []Column
}

// Column is the name and decoded type of a result column.
type Column struct {
	Name string
	Type value.Type
}

// Statement is a compiled DDL or DML statement.
type Statement struct {
	Text string
	Args []any
}

// Compiler compiles queries to parameterized SQL for one dialect.
//
// CRITICAL: All values are parameterized (never interpolated).
// Compilation is deterministic: the same query yields the same text and
// argument order.
type Compiler struct {
	dialect *Dialect
}

// NewCompiler creates a compiler for d. A nil dialect means SQLite.
func NewCompiler(d *Dialect) *Compiler {
	if d == nil {
		d = SQLite
	}
	return &Compiler{dialect: d}
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() *Dialect { return c.dialect }

// Compile converts a query to a SELECT statement.
//
// Layout:
//
//	SELECT <terms> FROM <from> [JOIN <t> ON <conds>]...
//	[WHERE <preds>] [GROUP BY <attrs>] [HAVING <preds>] [ORDER BY <keys>]
func (c *Compiler) Compile(q queryir.Query) (*Query, error) {
	scope, err := queryir.Resolve(q)
	if err != nil {
		return nil, err
	}
	w := &writer{dialect: c.dialect, scope: scope}

	var sb strings.Builder
	cols := make([]Column, len(q.Select))
	exprs := make([]string, len(q.Select))
	for i, t := range q.Select {
		expr, err := queryir.VisitSelectTerm[string](t, w)
		if err != nil {
			return nil, fmt.Errorf("compile select term: %w", err)
		}
		exprs[i] = expr
		cols[i] = Column{Name: queryir.OutputName(t), Type: queryir.ResultType(t)}
	}
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(exprs, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(w.ident(q.From.Name()))

	for _, j := range q.Joins {
		on := make([]queryir.Predicate, len(j.On))
		for i, cmp := range j.On {
			on[i] = cmp
		}
		cond, err := w.conjunction(on)
		if err != nil {
			return nil, fmt.Errorf("compile join %s: %w", j.Source.Name(), err)
		}
		sb.WriteString(" JOIN ")
		sb.WriteString(w.ident(j.Source.Name()))
		sb.WriteString(" ON ")
		sb.WriteString(cond)
	}

	if len(q.Where) > 0 {
		cond, err := w.conjunction(q.Where)
		if err != nil {
			return nil, fmt.Errorf("compile where: %w", err)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(cond)
	}

	if len(q.GroupBy) > 0 {
		keys := make([]string, len(q.GroupBy))
		for i, g := range q.GroupBy {
			keys[i] = w.column(g.Attr)
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(keys, ", "))
	}

	if len(q.Having) > 0 {
		cond, err := w.conjunction(q.Having)
		if err != nil {
			return nil, fmt.Errorf("compile having: %w", err)
		}
		sb.WriteString(" HAVING ")
		sb.WriteString(cond)
	}

	if len(q.OrderBy) > 0 {
		keys := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			expr, err := queryir.VisitSelectTerm[string](o.Term, w)
			if err != nil {
				return nil, fmt.Errorf("compile order by: %w", err)
			}
			keys[i] = expr + " " + c.direction(o.Direction)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(keys, ", "))
	}

	if w.err != nil {
		return nil, w.err
	}
	return &Query{Text: sb.String(), Args: w.args, Columns: cols}, nil
}

func (c *Compiler) direction(d queryir.Direction) string {
	switch {
	case d == queryir.Desc && c.dialect.NullsOrdering:
		return "DESC NULLS LAST"
	case d == queryir.Desc:
		return "DESC"
	case c.dialect.NullsOrdering:
		return "ASC NULLS FIRST"
	default:
		return "ASC"
	}
}

// CreateTable returns the statements that (re)create the table of t:
//
//	DROP TABLE IF EXISTS <t>
//	CREATE TABLE <t> (id <string> PRIMARY KEY, <attr> <type>, ...)
func (c *Compiler) CreateTable(t *entity.Type) []Statement {
	table := c.dialect.QuoteIdent(t.Name())
	defs := []string{c.dialect.QuoteIdent(entity.IDName) + " " + c.dialect.StringType + " PRIMARY KEY"}
	for _, a := range t.Attributes() {
		defs = append(defs, c.dialect.QuoteIdent(a.Name())+" "+c.dialect.ColumnType(a.Kind()))
	}
	return []Statement{
		{Text: "DROP TABLE IF EXISTS " + table},
		{Text: "CREATE TABLE " + table + " (" + strings.Join(defs, ", ") + ")"},
	}
}

// Insert returns the INSERT statement of e. Only the id and the supplied
// attributes are listed; omitted attributes stay null.
func (c *Compiler) Insert(e *entity.Entity) Statement {
	values := e.Values()
	cols := make([]string, 0, len(values)+1)
	marks := make([]string, 0, len(values)+1)
	args := make([]any, 0, len(values)+1)

	cols = append(cols, c.dialect.QuoteIdent(entity.IDName))
	args = append(args, e.ID())
	marks = append(marks, c.dialect.Placeholder(len(args)))
	for _, v := range values {
		cols = append(cols, c.dialect.QuoteIdent(v.Attr().Name()))
		args = append(args, v.Native())
		marks = append(marks, c.dialect.Placeholder(len(args)))
	}

	text := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.dialect.QuoteIdent(e.Type().Name()),
		strings.Join(cols, ", "),
		strings.Join(marks, ", "))
	return Statement{Text: text, Args: args}
}

// Decode converts one scanned row into typed values by column type.
func (q *Query) Decode(raw []any) (value.Row, error) {
	if len(raw) != len(q.Columns) {
		return nil, fmt.Errorf("decode row: got %d values for %d columns", len(raw), len(q.Columns))
	}
	row := make(value.Row, len(raw))
	for i, x := range raw {
		v, err := value.Convert(x, q.Columns[i].Type)
		if err != nil {
			return nil, fmt.Errorf("decode column %s: %w", q.Columns[i].Name, err)
		}
		row[i] = v
	}
	return row, nil
}

// writer renders algebra nodes for one compilation and collects bind
// arguments in rendering order.
type writer struct {
	dialect *Dialect
	scope   *queryir.Scope
	args    []any
	err     error // first unresolved attribute
}

// operand is a rendered comparison term.
type operand struct {
	sql  string
	null bool
}

func (w *writer) ident(s string) string { return w.dialect.QuoteIdent(s) }

// column renders an attribute qualified by its owning table.
func (w *writer) column(a entity.Attribute) string {
	owner, err := w.scope.Owner(a)
	if err != nil {
		if w.err == nil {
			w.err = err
		}
		return w.ident(a.Name())
	}
	return w.ident(owner.Name()) + "." + w.ident(a.Name())
}

func (w *writer) bind(v any) string {
	w.args = append(w.args, v)
	return w.dialect.Placeholder(len(w.args))
}

// conjunction joins predicates with AND, parenthesizing each when there is
// more than one.
func (w *writer) conjunction(preds []queryir.Predicate) (string, error) {
	parts := make([]string, len(preds))
	for i, p := range preds {
		s, err := queryir.VisitPredicate[string](p, w)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	for i := range parts {
		parts[i] = "(" + parts[i] + ")"
	}
	return strings.Join(parts, " AND "), nil
}

func (w *writer) VisitProjection(p queryir.Projection) (string, error) {
	return w.column(p.Attr), nil
}

func (w *writer) VisitAggregation(a queryir.Aggregation) (string, error) {
	return w.dialect.aggregate(a.Kind, w.column(a.Of.Attr))
}

func (w *writer) VisitComparison(c queryir.Comparison) (string, error) {
	left := w.column(c.Left.Attr)
	right, err := queryir.VisitTerm[operand](c.Right, w)
	if err != nil {
		return "", err
	}
	if right.null {
		return left + " IS NULL", nil
	}
	op, err := queryir.VisitOp[string](c.Op, w)
	if err != nil {
		return "", err
	}
	return left + " " + op + " " + right.sql, nil
}

func (w *writer) VisitAnd(a queryir.And) (string, error) {
	return w.binary("AND", a.Left, a.Right)
}

func (w *writer) VisitOr(o queryir.Or) (string, error) {
	return w.binary("OR", o.Left, o.Right)
}

func (w *writer) binary(op string, l, r queryir.Predicate) (string, error) {
	left, err := queryir.VisitPredicate[string](l, w)
	if err != nil {
		return "", err
	}
	right, err := queryir.VisitPredicate[string](r, w)
	if err != nil {
		return "", err
	}
	return "(" + left + ") " + op + " (" + right + ")", nil
}

func (w *writer) VisitNot(n queryir.Not) (string, error) {
	inner, err := queryir.VisitPredicate[string](n.Inner, w)
	if err != nil {
		return "", err
	}
	return "NOT (" + inner + ")", nil
}

func (w *writer) VisitAttrRef(a queryir.AttrRef) (operand, error) {
	return operand{sql: w.column(a.Attr)}, nil
}

func (w *writer) VisitLiteral(l queryir.Literal) (operand, error) {
	return operand{sql: w.bind(value.Native(l.Value))}, nil
}

func (w *writer) VisitNull(queryir.NullLiteral) (operand, error) {
	return operand{sql: "NULL", null: true}, nil
}

func (w *writer) VisitEQ() (string, error)   { return "=", nil }
func (w *writer) VisitLT() (string, error)   { return "<", nil }
func (w *writer) VisitGT() (string, error)   { return ">", nil }
func (w *writer) VisitLike() (string, error) { return "LIKE", nil }
