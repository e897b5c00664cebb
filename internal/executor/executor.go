// Package executor parses SELECT statements and evaluates the uuid-ossp
// compatible functions against a generator.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adrianmcphee/smarterid"
	"github.com/xwb1989/sqlparser"
)

// PostgreSQL type OIDs used in result descriptions.
const (
	Int4OID uint32 = 23
	TextOID uint32 = 25
	UUIDOID uint32 = 2950
)

// SQLSTATE codes reported through *Error.
const (
	CodeSyntaxError        = "42601"
	CodeUndefinedFunction  = "42883"
	CodeInvalidText        = "22P02"
	CodeFeatureUnsupported = "0A000"
	CodeInternal           = "XX000"
)

// Error is a query failure carrying a SQLSTATE code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code string, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Code returns the SQLSTATE for err, CodeInternal when it carries none.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Column describes one result column.
type Column struct {
	Name    string
	TypeOID uint32
}

// Result represents the result of executing a SQL statement
type Result struct {
	Columns []Column
	Rows    [][]string
	Message string
}

// Executor executes SQL statements
type Executor struct {
	gen     *smarterid.Generator
	mcGen   *smarterid.Generator
	logger  smarterid.Logger
	metrics smarterid.Metrics
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l smarterid.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m smarterid.Metrics) Option {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithMulticastGenerator sets the generator behind uuid_generate_v1mc.
func WithMulticastGenerator(g *smarterid.Generator) Option {
	return func(e *Executor) { e.mcGen = g }
}

// NewExecutor creates a new SQL executor. Without WithMulticastGenerator,
// uuid_generate_v1mc uses a generator with a random multicast node.
func NewExecutor(gen *smarterid.Generator, opts ...Option) (*Executor, error) {
	e := &Executor{
		gen:     gen,
		logger:  &smarterid.NoOpLogger{},
		metrics: &smarterid.NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.gen == nil {
		return nil, smarterid.WithContext(smarterid.ErrInvalidConfig, map[string]interface{}{
			"field":  "Generator",
			"reason": "generator is required",
		})
	}
	if e.mcGen == nil {
		mc, err := smarterid.NewGenerator(
			smarterid.WithNodeSource(smarterid.RandomNode{}),
			smarterid.WithLogger(e.logger),
			smarterid.WithMetrics(e.metrics),
		)
		if err != nil {
			return nil, err
		}
		e.mcGen = mc
	}
	return e, nil
}

// Execute parses and executes a SQL statement
func (e *Executor) Execute(ctx context.Context, sql string) (*Result, error) {
	start := time.Now()
	res, err := e.execute(ctx, sql)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		e.logger.Debug("query failed", "query", sql, "code", Code(err), "error", err)
	}
	e.metrics.Increment(smarterid.MetricSQLQueries, "result", outcome)
	e.metrics.Timing(smarterid.MetricSQLDuration, time.Since(start), "result", outcome)
	return res, err
}

func (e *Executor) execute(ctx context.Context, sql string) (*Result, error) {
	// Remove trailing semicolon for parser
	sql = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	if sql == "" {
		return &Result{}, nil
	}

	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, newError(CodeSyntaxError, err, "syntax error: %v", err)
	}

	switch s := stmt.(type) {
	case *sqlparser.Select:
		return e.executeSelect(ctx, s)
	default:
		return nil, newError(CodeFeatureUnsupported, nil, "unsupported statement type: %T", stmt)
	}
}

// executeSelect evaluates a FROM-less SELECT into a single row.
func (e *Executor) executeSelect(ctx context.Context, stmt *sqlparser.Select) (*Result, error) {
	if !fromDual(stmt.From) {
		return nil, newError(CodeFeatureUnsupported, nil, "FROM clause is not supported")
	}
	if stmt.Where != nil || stmt.GroupBy != nil || stmt.Having != nil {
		return nil, newError(CodeFeatureUnsupported, nil, "only plain SELECT lists are supported")
	}

	res := &Result{Rows: [][]string{{}}}
	for _, expr := range stmt.SelectExprs {
		aliased, ok := expr.(*sqlparser.AliasedExpr)
		if !ok {
			return nil, newError(CodeFeatureUnsupported, nil, "unsupported select expression: %s", sqlparser.String(expr))
		}

		v, err := e.eval(ctx, aliased.Expr)
		if err != nil {
			return nil, err
		}

		name := columnName(aliased)
		res.Columns = append(res.Columns, Column{Name: name, TypeOID: v.oid})
		res.Rows[0] = append(res.Rows[0], v.text)
	}
	res.Message = "SELECT 1"
	return res, nil
}

// value is an evaluated expression in text form.
type value struct {
	text string
	oid  uint32
}

func (e *Executor) eval(ctx context.Context, expr sqlparser.Expr) (value, error) {
	switch x := expr.(type) {
	case *sqlparser.SQLVal:
		switch x.Type {
		case sqlparser.StrVal:
			return value{text: string(x.Val), oid: TextOID}, nil
		case sqlparser.IntVal:
			return value{text: string(x.Val), oid: Int4OID}, nil
		}
		return value{}, newError(CodeFeatureUnsupported, nil, "unsupported literal: %s", sqlparser.String(x))
	case *sqlparser.ParenExpr:
		return e.eval(ctx, x.Expr)
	case *sqlparser.FuncExpr:
		return e.evalFunc(ctx, x)
	default:
		return value{}, newError(CodeFeatureUnsupported, nil, "unsupported expression: %s", sqlparser.String(expr))
	}
}

func (e *Executor) evalFunc(ctx context.Context, f *sqlparser.FuncExpr) (value, error) {
	name := f.Name.Lowered()
	fn, ok := functions[name]
	if !ok {
		return value{}, newError(CodeUndefinedFunction, nil, "function %s does not exist", name)
	}
	if len(f.Exprs) != fn.args {
		return value{}, newError(CodeUndefinedFunction, nil,
			"function %s takes %d argument(s), got %d", name, fn.args, len(f.Exprs))
	}

	args := make([]value, 0, len(f.Exprs))
	for _, se := range f.Exprs {
		aliased, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			return value{}, newError(CodeFeatureUnsupported, nil, "unsupported argument to %s", name)
		}
		v, err := e.eval(ctx, aliased.Expr)
		if err != nil {
			return value{}, err
		}
		args = append(args, v)
	}

	v, err := fn.call(ctx, e, args)
	if err != nil {
		var qe *Error
		if errors.As(err, &qe) {
			return value{}, err
		}
		return value{}, newError(CodeInternal, err, "%s: %v", name, err)
	}
	return v, nil
}

func fromDual(from sqlparser.TableExprs) bool {
	if len(from) == 0 {
		return true
	}
	if len(from) != 1 {
		return false
	}
	aliased, ok := from[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return false
	}
	tbl, ok := aliased.Expr.(sqlparser.TableName)
	return ok && tbl.Qualifier.IsEmpty() && tbl.Name.String() == "dual"
}

// columnName follows PostgreSQL: the alias, else the function name, else ?column?.
func columnName(expr *sqlparser.AliasedExpr) string {
	if !expr.As.IsEmpty() {
		return expr.As.String()
	}
	if f, ok := expr.Expr.(*sqlparser.FuncExpr); ok {
		return f.Name.Lowered()
	}
	return "?column?"
}
