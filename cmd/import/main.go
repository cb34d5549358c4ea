// Command import loads accounts from a JSON file into the accounts table.
//
// The file holds an array of {"name","agencia","conta","balance"} objects.
// The whole file is inserted in one batch; any invalid or duplicate account
// rejects the batch.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"my-bank-api/internal/config"
	"my-bank-api/internal/domain"
	"my-bank-api/internal/ledger"
	"my-bank-api/internal/logging"
	"my-bank-api/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func readAccounts(path string) ([]domain.Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var accts []domain.Account
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&accts); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return accts, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, _ := config.Load()

	var (
		inPath  = flag.String("in", "", "JSON file with an array of accounts")
		dsn     = flag.String("dsn", cfg.DBDSN, "PostgreSQL DSN (defaults to LEDGER_DB_DSN)")
		migrate = flag.Bool("migrate", cfg.DBMigrate, "apply migrations before importing")
		timeout = flag.Duration("timeout", time.Minute, "overall deadline")
	)
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		return 2
	}

	logger, err := logging.NewLoggerFromEnv("bank-import")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	accts, err := readAccounts(*inPath)
	if err != nil {
		logger.Error("read input", zap.Error(err))
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		logger.Error("db connect", zap.Error(err))
		return 1
	}
	defer pool.Close()

	if *migrate {
		if err := store.Migrate(ctx, pool); err != nil {
			logger.Error("migrations", zap.Error(err))
			return 1
		}
	}

	n, err := ledger.New(store.New(pool)).Import(ctx, accts)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidArgument) {
			logger.Error("import rejected", zap.Error(err), zap.String("file", *inPath))
			return 2
		}
		logger.Error("import failed", zap.Error(err), zap.NamedError("cause", errors.Unwrap(err)))
		return 1
	}

	logger.Info("import complete", zap.Int64("accounts", n), zap.String("file", *inPath))
	return 0
}
