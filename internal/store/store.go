package store

import (
	"context"
	"errors"

	"my-bank-api/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrNegativeBalance = errors.New("balance would become negative")
	ErrDuplicate       = errors.New("account number already exists")
	ErrUnavailable     = errors.New("store unavailable")
	ErrOverflow        = errors.New("balance out of range")
)

// RankQuery selects accounts ordered by balance.
//
// Descending order breaks ties by name then account number; ascending order
// breaks ties by account number only. Branch restricts the scan when set.
type RankQuery struct {
	Ascending bool
	Limit     int
	Branch    *int
}

// Store is the persistence contract the ledger is written against.
// Single-record reads and writes are atomic; WithinTx groups several
// of them into one unit that commits or rolls back as a whole.
type Store interface {
	FindByBranchAndAccount(ctx context.Context, branch, number int) (domain.Account, error)
	FindByAccountNumber(ctx context.Context, number int) (domain.Account, error)
	FindAll(ctx context.Context) ([]domain.Account, error)
	FindByBranch(ctx context.Context, branch int) ([]domain.Account, error)
	DistinctBranches(ctx context.Context) ([]int, error)
	AverageBalance(ctx context.Context, branch int) (decimal.Decimal, error)
	SortedByBalance(ctx context.Context, q RankQuery) ([]domain.Account, error)

	// UpdateBalance overwrites the balance. The ledger moves money with
	// AddToBalance instead, which cannot lose a concurrent update.
	UpdateBalance(ctx context.Context, branch, number int, balance int64) (domain.Account, error)
	// AddToBalance applies delta atomically and fails with ErrNegativeBalance
	// instead of writing a balance below zero, or ErrOverflow when the result
	// does not fit in an int64.
	AddToBalance(ctx context.Context, branch, number int, delta int64) (domain.Account, error)
	// UpdateBranchByID moves an account and remembers the branch it left.
	UpdateBranchByID(ctx context.Context, id int64, branch int) (domain.Account, error)
	DeleteByBranchAndAccount(ctx context.Context, branch, number int) (domain.Account, error)
	CountByBranch(ctx context.Context, branch int) (int64, error)
	Insert(ctx context.Context, accounts []domain.Account) (int64, error)

	WithinTx(ctx context.Context, fn func(Store) error) error
}

func validateRank(q RankQuery) error {
	if q.Limit <= 0 {
		return ErrValidation
	}
	return nil
}

func validateNew(a domain.Account) error {
	if a.Name == "" || a.Balance < 0 || a.AccountNumber <= 0 || a.Branch <= 0 {
		return ErrValidation
	}
	return nil
}
