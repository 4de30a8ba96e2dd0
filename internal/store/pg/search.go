package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gatehouse.org/internal/query"
)

// Searcher executes validated predicate sets against Postgres. Every
// identifier it interpolates comes from a registered schema; request input
// only ever travels as a bind argument.
type Searcher struct {
	db *sql.DB
}

var _ query.Executor = (*Searcher)(nil)

func NewSearcher(db *sql.DB) *Searcher { return &Searcher{db: db} }

func (s *Searcher) Count(ctx context.Context, schema query.Schema, set query.PredicateSet) (int64, error) {
	where, args := renderWhere(set)
	q := `select count(*) from ` + schema.Table + ` r` + where
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, mapQueryErr(err)
	}
	return n, nil
}

// Fetch serializes each row to JSON inside Postgres; the engine hands the
// raw documents back to the transport untouched.
func (s *Searcher) Fetch(ctx context.Context, schema query.Schema, set query.PredicateSet, sort query.Sort, limit, offset int) ([]json.RawMessage, error) {
	where, args := renderWhere(set)
	dir := "asc"
	if sort.Descending {
		dir = "desc"
	}
	q := fmt.Sprintf(
		`select to_jsonb(r) from %s r%s order by r.%s %s limit $%d offset $%d`,
		schema.Table, where, sort.Field, dir, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapQueryErr(err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, mapQueryErr(err)
		}
		out = append(out, json.RawMessage(append([]byte(nil), doc...)))
	}
	if err := rows.Err(); err != nil {
		return nil, mapQueryErr(err)
	}
	return out, nil
}

func renderWhere(set query.PredicateSet) (string, []any) {
	var conds []string
	var args []any

	for _, p := range set.Predicates {
		col := "r." + p.Field
		switch p.Op {
		case query.OpEq:
			args = append(args, p.Value)
			conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
		case query.OpContains:
			args = append(args, likePattern(fmt.Sprint(p.Value)))
			conds = append(conds, fmt.Sprintf(`%s ilike $%d escape '\'`, col, len(args)))
		case query.OpRange:
			if p.From != nil {
				args = append(args, p.From)
				conds = append(conds, fmt.Sprintf("%s >= $%d", col, len(args)))
			}
			if p.To != nil {
				args = append(args, p.To)
				conds = append(conds, fmt.Sprintf("%s <= $%d", col, len(args)))
			}
		}
	}

	if set.Search != nil {
		args = append(args, likePattern(set.Search.Term))
		n := len(args)
		ors := make([]string, 0, len(set.Search.Fields))
		for _, f := range set.Search.Fields {
			ors = append(ors, fmt.Sprintf(`r.%s ilike $%d escape '\'`, f, n))
		}
		conds = append(conds, "("+strings.Join(ors, " or ")+")")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " where " + strings.Join(conds, " and "), args
}

// likePattern escapes LIKE metacharacters so a term containing % or _
// matches literally.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

func mapQueryErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", query.ErrStoreTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", query.ErrStoreCanceled, err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %v", query.ErrStoreUnavailable, err)
	default:
		return err
	}
}
