// Package ledger holds the balance rules of the bank: deposits, withdrawals
// with a flat fee, transfers with a cross-branch fee, rankings and promotion
// of each branch's richest client to the private branch.
//
// The package is transport-agnostic and does not log. Every operation
// returns a sentinel from errors.go for expected outcomes and an
// *InternalError for store failures.
package ledger

import (
	"context"
	"errors"
	"math"

	"my-bank-api/internal/domain"
	"my-bank-api/internal/lock"
	"my-bank-api/internal/store"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalFee          int64 = 1
	CrossBranchTransferFee int64 = 8
)

// Locker serializes bulk jobs. The release func must be safe to call once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type Service struct {
	st                 store.Store
	locker             Locker
	promoteConcurrency int
}

type Option func(*Service)

func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithPromoteConcurrency bounds the number of branches processed at once
// during promotion.
func WithPromoteConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.promoteConcurrency = n
		}
	}
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		st:                 st,
		locker:             lock.NewLocal(),
		promoteConcurrency: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func isRule(err error) bool {
	var biz interface{ BusinessRule() bool }
	return errors.As(err, &biz) && biz.BusinessRule()
}

// fail maps a store error onto the ledger's error kinds.
func fail(op string, err error, notFound error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound
	case errors.Is(err, store.ErrOverflow):
		return errTooLarge
	case isRule(err):
		return err
	default:
		return internal(op, err)
	}
}

var errTooLarge = invalid("amount would push the balance out of range")

// TransferFee is charged to the origin of a transfer.
func TransferFee(fromBranch, toBranch int) int64 {
	if fromBranch == toBranch {
		return 0
	}
	return CrossBranchTransferFee
}

func (s *Service) Accounts(ctx context.Context) ([]domain.Account, error) {
	accts, err := s.st.FindAll(ctx)
	if err != nil {
		return nil, internal("accounts", err)
	}
	return accts, nil
}

func (s *Service) Balance(ctx context.Context, branch, number int) (int64, error) {
	a, err := s.st.FindByBranchAndAccount(ctx, branch, number)
	if err != nil {
		return 0, fail("balance", err, ErrAccountNotFound)
	}
	return a.Balance, nil
}

// Average is the arithmetic mean of the balances in branch.
func (s *Service) Average(ctx context.Context, branch int) (decimal.Decimal, error) {
	avg, err := s.st.AverageBalance(ctx, branch)
	if err != nil {
		return decimal.Zero, fail("average", err, ErrBranchNotFound)
	}
	return avg, nil
}

// LowestBalances returns the n smallest balances, ascending. Order among
// equal balances is not part of the contract.
func (s *Service) LowestBalances(ctx context.Context, n int) ([]domain.Account, error) {
	if n <= 0 {
		return nil, invalid("quantity must be positive")
	}
	accts, err := s.st.SortedByBalance(ctx, store.RankQuery{Ascending: true, Limit: n})
	if err != nil {
		return nil, internal("lowest balances", err)
	}
	return accts, nil
}

// RichestClients returns the n largest balances, descending, with equal
// balances ordered by name.
func (s *Service) RichestClients(ctx context.Context, n int) ([]domain.Account, error) {
	if n <= 0 {
		return nil, invalid("quantity must be positive")
	}
	accts, err := s.st.SortedByBalance(ctx, store.RankQuery{Limit: n})
	if err != nil {
		return nil, internal("richest clients", err)
	}
	return accts, nil
}

func (s *Service) Deposit(ctx context.Context, branch, number int, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, invalid("deposit amount must be positive")
	}
	a, err := s.st.AddToBalance(ctx, branch, number, amount)
	if err != nil {
		return 0, fail("deposit", err, ErrAccountNotFound)
	}
	return a.Balance, nil
}

// Withdraw debits amount plus WithdrawalFee. The balance must stay >= 0.
func (s *Service) Withdraw(ctx context.Context, branch, number int, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, invalid("withdrawal amount must be positive")
	}
	if amount > math.MaxInt64-WithdrawalFee {
		return 0, invalid("withdrawal amount too large")
	}
	a, err := s.st.AddToBalance(ctx, branch, number, -(amount + WithdrawalFee))
	switch {
	case errors.Is(err, store.ErrNegativeBalance):
		return 0, ErrInsufficientFunds
	case err != nil:
		return 0, fail("withdraw", err, ErrAccountNotFound)
	}
	return a.Balance, nil
}

// Close deletes the account and returns how many accounts remain in its
// branch.
func (s *Service) Close(ctx context.Context, branch, number int) (int64, error) {
	var remaining int64
	err := s.st.WithinTx(ctx, func(tx store.Store) error {
		if _, err := tx.DeleteByBranchAndAccount(ctx, branch, number); err != nil {
			return err
		}
		n, err := tx.CountByBranch(ctx, branch)
		if err != nil {
			return err
		}
		remaining = n
		return nil
	})
	if err != nil {
		return 0, fail("close", err, ErrAccountNotFound)
	}
	return remaining, nil
}

// Transfer moves amount between two accounts identified by account number.
// The origin pays amount plus TransferFee and may not go negative. Both
// legs commit together or not at all. It returns the origin's new balance.
func (s *Service) Transfer(ctx context.Context, from, to int, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, invalid("transfer amount must be positive")
	}
	if amount > math.MaxInt64-CrossBranchTransferFee {
		return 0, invalid("transfer amount too large")
	}
	if from == to {
		return 0, invalid("origin and destination must differ")
	}

	var originBalance int64
	err := s.st.WithinTx(ctx, func(tx store.Store) error {
		origin, dest, err := lookupPair(ctx, tx, from, to)
		if err != nil {
			return err
		}

		fee := TransferFee(origin.Branch, dest.Branch)
		debited, err := tx.AddToBalance(ctx, origin.Branch, origin.AccountNumber, -(amount + fee))
		if errors.Is(err, store.ErrNegativeBalance) {
			return ErrInsufficientFunds
		}
		if err != nil {
			return err
		}
		_, err = tx.AddToBalance(ctx, dest.Branch, dest.AccountNumber, amount)
		if errors.Is(err, store.ErrOverflow) {
			return errTooLarge
		}
		if err != nil {
			return err
		}
		originBalance = debited.Balance
		return nil
	})
	if err != nil {
		if isRule(err) {
			return 0, err
		}
		return 0, internal("transfer", err)
	}
	return originBalance, nil
}

// lookupPair reads both transfer accounts in account-number order so that
// concurrent opposite transfers lock rows in the same sequence.
func lookupPair(ctx context.Context, tx store.Store, from, to int) (origin, dest domain.Account, err error) {
	find := func(number int, missing error) (domain.Account, error) {
		a, err := tx.FindByAccountNumber(ctx, number)
		if errors.Is(err, store.ErrNotFound) {
			return a, missing
		}
		return a, err
	}

	if from < to {
		if origin, err = find(from, ErrOriginNotFound); err != nil {
			return
		}
		dest, err = find(to, ErrDestinationNotFound)
		return
	}
	dest, err = find(to, ErrDestinationNotFound)
	if err != nil && !errors.Is(err, ErrDestinationNotFound) {
		return
	}
	// A missing origin is reported before a missing destination.
	missingDest := err
	if origin, err = find(from, ErrOriginNotFound); err != nil {
		return
	}
	return origin, dest, missingDest
}

// Import bulk-loads accounts created outside the API.
func (s *Service) Import(ctx context.Context, accounts []domain.Account) (int64, error) {
	if len(accounts) == 0 {
		return 0, invalid("no accounts to import")
	}
	n, err := s.st.Insert(ctx, accounts)
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrDuplicate):
		return 0, invalid(err.Error())
	case err != nil:
		return 0, internal("import", err)
	}
	return n, nil
}
