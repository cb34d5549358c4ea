package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"my-bank-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Postgres is the PostgreSQL-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
	db   querier
	// set inside WithinTx: point lookups take row locks
	inTx bool
}

func New(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool, db: pool} }

const accountCols = `id, name, agencia, conta, balance, origin_agencia`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Name, &a.Branch, &a.AccountNumber, &a.Balance, &a.OriginBranch)
	return a, err
}

func collectAccounts(rows pgx.Rows) ([]domain.Account, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Account, error) {
		return scanAccount(row)
	})
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.Detail)
		case "23514":
			return ErrNegativeBalance
		case "22003":
			return ErrOverflow
		}
	}
	return err
}

func (s *Postgres) lockClause() string {
	if s.inTx {
		return " FOR UPDATE"
	}
	return ""
}

func (s *Postgres) FindByBranchAndAccount(ctx context.Context, branch, number int) (domain.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE agencia=$1 AND conta=$2`+s.lockClause(),
		branch, number,
	))
	return a, mapErr(err)
}

func (s *Postgres) FindByAccountNumber(ctx context.Context, number int) (domain.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE conta=$1`+s.lockClause(),
		number,
	))
	return a, mapErr(err)
}

func (s *Postgres) FindAll(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY agencia, conta`)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (s *Postgres) FindByBranch(ctx context.Context, branch int) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE agencia=$1 ORDER BY conta`,
		branch,
	)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (s *Postgres) DistinctBranches(ctx context.Context) ([]int, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT agencia FROM accounts ORDER BY agencia`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (s *Postgres) AverageBalance(ctx context.Context, branch int) (decimal.Decimal, error) {
	// AVG over an empty set is NULL.
	var avg *string
	err := s.db.QueryRow(ctx,
		`SELECT AVG(balance)::text FROM accounts WHERE agencia=$1`,
		branch,
	).Scan(&avg)
	if err != nil {
		return decimal.Zero, err
	}
	if avg == nil {
		return decimal.Zero, ErrNotFound
	}
	return decimal.NewFromString(*avg)
}

func (s *Postgres) SortedByBalance(ctx context.Context, q RankQuery) ([]domain.Account, error) {
	if err := validateRank(q); err != nil {
		return nil, err
	}

	var sb strings.Builder
	args := []any{q.Limit}
	sb.WriteString(`SELECT ` + accountCols + ` FROM accounts`)
	if q.Branch != nil {
		args = append(args, *q.Branch)
		sb.WriteString(` WHERE agencia=$2`)
	}
	if q.Ascending {
		sb.WriteString(` ORDER BY balance ASC, conta ASC`)
	} else {
		sb.WriteString(` ORDER BY balance DESC, name COLLATE "C" ASC, conta ASC`)
	}
	sb.WriteString(` LIMIT $1`)

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (s *Postgres) UpdateBalance(ctx context.Context, branch, number int, balance int64) (domain.Account, error) {
	if balance < 0 {
		return domain.Account{}, ErrNegativeBalance
	}
	a, err := scanAccount(s.db.QueryRow(ctx,
		`UPDATE accounts SET balance=$3 WHERE agencia=$1 AND conta=$2 RETURNING `+accountCols,
		branch, number, balance,
	))
	return a, mapErr(err)
}

func (s *Postgres) AddToBalance(ctx context.Context, branch, number int, delta int64) (domain.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $3
		  WHERE agencia=$1 AND conta=$2 AND balance + $3 >= 0
		 RETURNING `+accountCols,
		branch, number, delta,
	))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, mapErr(err)
	}

	// No row updated: either the account is missing or the floor held.
	var exists bool
	err = s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE agencia=$1 AND conta=$2)`,
		branch, number,
	).Scan(&exists)
	if err != nil {
		return domain.Account{}, err
	}
	if !exists {
		return domain.Account{}, ErrNotFound
	}
	return domain.Account{}, ErrNegativeBalance
}

func (s *Postgres) UpdateBranchByID(ctx context.Context, id int64, branch int) (domain.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`UPDATE accounts
		    SET origin_agencia = CASE WHEN agencia <> $2 THEN agencia ELSE origin_agencia END,
		        agencia = $2
		  WHERE id=$1
		 RETURNING `+accountCols,
		id, branch,
	))
	return a, mapErr(err)
}

func (s *Postgres) DeleteByBranchAndAccount(ctx context.Context, branch, number int) (domain.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`DELETE FROM accounts WHERE agencia=$1 AND conta=$2 RETURNING `+accountCols,
		branch, number,
	))
	return a, mapErr(err)
}

func (s *Postgres) CountByBranch(ctx context.Context, branch int) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM accounts WHERE agencia=$1`, branch).Scan(&n)
	return n, err
}

func (s *Postgres) Insert(ctx context.Context, accounts []domain.Account) (int64, error) {
	for _, a := range accounts {
		if err := validateNew(a); err != nil {
			return 0, fmt.Errorf("%w: account %d", err, a.AccountNumber)
		}
	}
	n, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"accounts"},
		[]string{"name", "agencia", "conta", "balance"},
		pgx.CopyFromSlice(len(accounts), func(i int) ([]any, error) {
			a := accounts[i]
			return []any{a.Name, a.Branch, a.AccountNumber, a.Balance}, nil
		}),
	)
	return n, mapErr(err)
}

// WithinTx runs fn against a transaction-bound Store. Nested calls reuse the
// outer transaction.
func (s *Postgres) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&Postgres{pool: s.pool, db: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
