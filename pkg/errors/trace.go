package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/multierr"
)

// Trace flattens err into log fields: the code, the unwrap chain of every
// combined error, and postgres diagnostics from either driver.
func Trace(err error) map[string]any {
	if err == nil {
		return nil
	}
	fields := map[string]any{
		"error_code": string(CodeOf(err)),
	}
	var chain []string
	for _, branch := range multierr.Errors(err) {
		for e := branch; e != nil; e = stdErrors.Unwrap(e) {
			chain = append(chain, fmt.Sprintf("%T: %v", e, e))
		}
	}
	fields["error_chain"] = chain

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		addPG(fields, pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail)
	case stdErrors.As(err, &pqErr):
		addPG(fields, string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail)
	}
	return fields
}

func addPG(fields map[string]any, code, constraint, table, detail string) {
	fields["pg_code"] = code
	if constraint != "" {
		fields["pg_constraint"] = constraint
	}
	if table != "" {
		fields["pg_table"] = table
	}
	if detail != "" {
		fields["pg_detail"] = detail
	}
}
