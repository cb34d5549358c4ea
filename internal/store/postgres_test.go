package store

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"my-bank-api/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

func mustEnv(t *testing.T, key string) string {
	t.Helper()
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		t.Skipf("missing %s env var", key)
	}
	return v
}

// newTestPool connects, migrates and empties the accounts table.
// Tests sharing the database must not run in parallel.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := mustEnv(t, "LEDGER_DB_DSN")

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	// Concurrency tests. Keep it bounded.
	cfg.MaxConns = 20
	cfg.MinConns = 1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE accounts RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func TestPostgresContract(t *testing.T) {
	runContract(t, New(newTestPool(t)))
}

func TestPostgresMigrateIsRepeatable(t *testing.T) {
	pool := newTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	files, err := migrationFiles()
	if err != nil {
		t.Fatal(err)
	}
	var applied int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatal(err)
	}
	if applied != len(files) {
		t.Fatalf("applied=%d files=%d", applied, len(files))
	}
}

func TestPostgresBalanceCheckConstraint(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx,
		`INSERT INTO accounts(name, agencia, conta, balance) VALUES ('X', 1, 1, -1)`)
	if mapped := mapErr(err); mapped != ErrNegativeBalance {
		t.Fatalf("want ErrNegativeBalance, got %v (raw %v)", mapped, err)
	}
}

// Opposite transfers lock both rows in account-number order, so they
// serialize instead of deadlocking and the total is conserved.
func TestPostgresConcurrentOppositeTransfers(t *testing.T) {
	st := New(newTestPool(t))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := st.Insert(ctx, []domain.Account{
		{Name: "A", Branch: 1, AccountNumber: 1, Balance: 1000},
		{Name: "B", Branch: 1, AccountNumber: 2, Balance: 1000},
	}); err != nil {
		t.Fatal(err)
	}

	move := func(from, to int) error {
		return st.WithinTx(ctx, func(tx Store) error {
			lo, hi := from, to
			if lo > hi {
				lo, hi = hi, lo
			}
			if _, err := tx.FindByAccountNumber(ctx, lo); err != nil {
				return err
			}
			if _, err := tx.FindByAccountNumber(ctx, hi); err != nil {
				return err
			}
			if _, err := tx.AddToBalance(ctx, 1, from, -1); err != nil {
				return err
			}
			_, err := tx.AddToBalance(ctx, 1, to, 1)
			return err
		})
	}

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := move(1, 2); err != nil {
				t.Errorf("1->2: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := move(2, 1); err != nil {
				t.Errorf("2->1: %v", err)
			}
		}()
	}
	wg.Wait()

	all, err := st.FindAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, a := range all {
		total += a.Balance
	}
	if total != 2000 {
		t.Fatalf("total=%d want=2000", total)
	}
}
