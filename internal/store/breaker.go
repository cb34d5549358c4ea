package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"my-bank-api/internal/domain"
	"my-bank-api/internal/metrics"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig configures the circuit breaker placed in front of a Store.
type BreakerConfig struct {
	Name string

	// MaxRequests allowed through while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts; 0 never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "accounts",
		MaxRequests:         5,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breaker guards a Store with a circuit breaker. Business outcomes
// (not found, negative balance, overflow, validation, duplicates) and caller
// cancellation do not count as failures.
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

var _ Store = (*Breaker)(nil)

func NewBreaker(next Store, cfg BreakerConfig, logger *zap.Logger, m metrics.Collector) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NoOpCollector{}
	}
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			m.RecordCircuitState(name, state)
		},
	}

	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func isBreakerSuccess(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNegativeBalance),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrOverflow),
		errors.Is(err, context.Canceled):
		return true
	}
	// Errors raised by a WithinTx callback that are not store failures
	// (ledger business rules) surface here too; they carry no driver error.
	var biz interface{ BusinessRule() bool }
	return errors.As(err, &biz) && biz.BusinessRule()
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func guard[T any](b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s: %v", ErrUnavailable, b.cb.Name(), err)
		}
		return zero, err
	}
	return res.(T), nil
}

func (b *Breaker) FindByBranchAndAccount(ctx context.Context, branch, number int) (domain.Account, error) {
	return guard(b, func() (domain.Account, error) { return b.next.FindByBranchAndAccount(ctx, branch, number) })
}

func (b *Breaker) FindByAccountNumber(ctx context.Context, number int) (domain.Account, error) {
	return guard(b, func() (domain.Account, error) { return b.next.FindByAccountNumber(ctx, number) })
}

func (b *Breaker) FindAll(ctx context.Context) ([]domain.Account, error) {
	return guard(b, func() ([]domain.Account, error) { return b.next.FindAll(ctx) })
}

func (b *Breaker) FindByBranch(ctx context.Context, branch int) ([]domain.Account, error) {
	return guard(b, func() ([]domain.Account, error) { return b.next.FindByBranch(ctx, branch) })
}

func (b *Breaker) DistinctBranches(ctx context.Context) ([]int, error) {
	return guard(b, func() ([]int, error) { return b.next.DistinctBranches(ctx) })
}

func (b *Breaker) AverageBalance(ctx context.Context, branch int) (decimal.Decimal, error) {
	return guard(b, func() (decimal.Decimal, error) { return b.next.AverageBalance(ctx, branch) })
}

func (b *Breaker) SortedByBalance(ctx context.Context, q RankQuery) ([]domain.Account, error) {
	return guard(b, func() ([]domain.Account, error) { return b.next.SortedByBalance(ctx, q) })
}

func (b *Breaker) UpdateBalance(ctx context.Context, branch, number int, balance int64) (domain.Account, error) {
	return guard(b, func() (domain.Account, error) { return b.next.UpdateBalance(ctx, branch, number, balance) })
}

func (b *Breaker) AddToBalance(ctx context.Context, branch, number int, delta int64) (domain.Account, error) {
	return guard(b, func() (domain.Account, error) { return b.next.AddToBalance(ctx, branch, number, delta) })
}

func (b *Breaker) UpdateBranchByID(ctx context.Context, id int64, branch int) (domain.Account, error) {
	return guard(b, func() (domain.Account, error) { return b.next.UpdateBranchByID(ctx, id, branch) })
}

func (b *Breaker) DeleteByBranchAndAccount(ctx context.Context, branch, number int) (domain.Account, error) {
	return guard(b, func() (domain.Account, error) { return b.next.DeleteByBranchAndAccount(ctx, branch, number) })
}

func (b *Breaker) CountByBranch(ctx context.Context, branch int) (int64, error) {
	return guard(b, func() (int64, error) { return b.next.CountByBranch(ctx, branch) })
}

func (b *Breaker) Insert(ctx context.Context, accounts []domain.Account) (int64, error) {
	return guard(b, func() (int64, error) { return b.next.Insert(ctx, accounts) })
}

// WithinTx runs the whole unit as one breaker call; fn receives the
// unguarded transactional store.
func (b *Breaker) WithinTx(ctx context.Context, fn func(Store) error) error {
	_, err := guard(b, func() (struct{}, error) { return struct{}{}, b.next.WithinTx(ctx, fn) })
	return err
}
