package postgres

import (
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// Amounts are stored as NUMERIC(20,0), which holds the full uint64 range.
// They cross the wire as decimal text since pgx has no native uint64 codec
// for numeric.

func amountArg(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(column, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: parse %s %q: %w", column, s, err)
	}
	return v, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// appendListOpts adds the time window, ordering, and pagination clauses of
// opts to query.
func appendListOpts(query string, args []any, timeCol, orderBy string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s < $%d", timeCol, len(args))
	}

	query += " ORDER BY " + orderBy

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func utc(t time.Time) time.Time { return t.UTC() }
