package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnosis is the log-only view of a failure: the unwrap chain plus any
// Postgres driver detail. It is never sent to API clients.
type Diagnosis struct {
	Message string
	Code    Code
	Chain   []string
	SQL     SQLDetail
}

// SQLDetail carries the driver fields shared by pgx and lib/pq errors.
type SQLDetail struct {
	State      string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

// Diagnose unwraps err for logging.
func Diagnose(err error) Diagnosis {
	if err == nil {
		return Diagnosis{}
	}
	d := Diagnosis{Message: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", cur, cur))
	}
	d.SQL, _ = sqlDetail(err)
	return d
}

func sqlDetail(err error) (SQLDetail, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return SQLDetail{
			State:      pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return SQLDetail{
			State:      string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return SQLDetail{}, false
}

// Fields flattens the diagnosis into structured log fields, omitting empty
// driver values.
func (d Diagnosis) Fields() map[string]any {
	fields := map[string]any{"error_message": d.Message}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	for key, val := range map[string]string{
		"pg_code":       d.SQL.State,
		"pg_constraint": d.SQL.Constraint,
		"pg_table":      d.SQL.Table,
		"pg_column":     d.SQL.Column,
		"pg_detail":     d.SQL.Detail,
	} {
		if val != "" {
			fields[key] = val
		}
	}
	return fields
}
