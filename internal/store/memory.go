package store

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"

	"my-bank-api/internal/domain"

	"github.com/shopspring/decimal"
)

// Memory is an in-process Store. A single mutex serializes every read and
// write; WithinTx holds it for the whole unit and works on a copy that is
// swapped in only when fn succeeds.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]domain.Account
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[int64]domain.Account)}
}

func (m *Memory) findLocked(match func(domain.Account) bool) (domain.Account, bool) {
	for _, a := range m.accounts {
		if match(a) {
			return a, true
		}
	}
	return domain.Account{}, false
}

func (m *Memory) filterLocked(match func(domain.Account) bool) []domain.Account {
	out := make([]domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		if match == nil || match(a) {
			out = append(out, a)
		}
	}
	return out
}

func byBranchAndNumber(branch, number int) func(domain.Account) bool {
	return func(a domain.Account) bool { return a.Branch == branch && a.AccountNumber == number }
}

func sortByLocation(accts []domain.Account) {
	sort.Slice(accts, func(i, j int) bool {
		if accts[i].Branch != accts[j].Branch {
			return accts[i].Branch < accts[j].Branch
		}
		return accts[i].AccountNumber < accts[j].AccountNumber
	})
}

func (m *Memory) FindByBranchAndAccount(_ context.Context, branch, number int) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.findLocked(byBranchAndNumber(branch, number))
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) FindByAccountNumber(_ context.Context, number int) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.findLocked(func(a domain.Account) bool { return a.AccountNumber == number })
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) FindAll(_ context.Context) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filterLocked(nil)
	sortByLocation(out)
	return out, nil
}

func (m *Memory) FindByBranch(_ context.Context, branch int) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filterLocked(func(a domain.Account) bool { return a.Branch == branch })
	sortByLocation(out)
	return out, nil
}

func (m *Memory) DistinctBranches(_ context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int]struct{})
	for _, a := range m.accounts {
		seen[a.Branch] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Ints(out)
	return out, nil
}

func (m *Memory) AverageBalance(_ context.Context, branch int) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	var n int64
	for _, a := range m.accounts {
		if a.Branch == branch {
			sum = sum.Add(decimal.NewFromInt(a.Balance))
			n++
		}
	}
	if n == 0 {
		return decimal.Zero, ErrNotFound
	}
	return sum.Div(decimal.NewFromInt(n)), nil
}

func (m *Memory) SortedByBalance(_ context.Context, q RankQuery) ([]domain.Account, error) {
	if err := validateRank(q); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var match func(domain.Account) bool
	if q.Branch != nil {
		branch := *q.Branch
		match = func(a domain.Account) bool { return a.Branch == branch }
	}
	out := m.filterLocked(match)

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Balance != b.Balance {
			if q.Ascending {
				return a.Balance < b.Balance
			}
			return a.Balance > b.Balance
		}
		if !q.Ascending && a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.AccountNumber < b.AccountNumber
	})

	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) UpdateBalance(_ context.Context, branch, number int, balance int64) (domain.Account, error) {
	if balance < 0 {
		return domain.Account{}, ErrNegativeBalance
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.findLocked(byBranchAndNumber(branch, number))
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	a.Balance = balance
	m.accounts[a.ID] = a
	return a, nil
}

func (m *Memory) AddToBalance(_ context.Context, branch, number int, delta int64) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.findLocked(byBranchAndNumber(branch, number))
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	if delta > 0 && a.Balance > math.MaxInt64-delta {
		return domain.Account{}, ErrOverflow
	}
	if a.Balance+delta < 0 {
		return domain.Account{}, ErrNegativeBalance
	}
	a.Balance += delta
	m.accounts[a.ID] = a
	return a, nil
}

func (m *Memory) UpdateBranchByID(_ context.Context, id int64, branch int) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	if a.Branch != branch {
		origin := a.Branch
		a.OriginBranch = &origin
		a.Branch = branch
	}
	m.accounts[id] = a
	return a, nil
}

func (m *Memory) DeleteByBranchAndAccount(_ context.Context, branch, number int) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.findLocked(byBranchAndNumber(branch, number))
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	delete(m.accounts, a.ID)
	return a, nil
}

func (m *Memory) CountByBranch(_ context.Context, branch int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.accounts {
		if a.Branch == branch {
			n++
		}
	}
	return n, nil
}

// Insert adds all accounts or none of them.
func (m *Memory) Insert(_ context.Context, accounts []domain.Account) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	taken := make(map[int]struct{}, len(m.accounts)+len(accounts))
	for _, a := range m.accounts {
		taken[a.AccountNumber] = struct{}{}
	}
	for _, a := range accounts {
		if err := validateNew(a); err != nil {
			return 0, fmt.Errorf("%w: account %d", err, a.AccountNumber)
		}
		if _, dup := taken[a.AccountNumber]; dup {
			return 0, fmt.Errorf("%w: conta=%d", ErrDuplicate, a.AccountNumber)
		}
		taken[a.AccountNumber] = struct{}{}
	}

	for _, a := range accounts {
		m.nextID++
		a.ID = m.nextID
		a.OriginBranch = nil
		m.accounts[a.ID] = a
	}
	return int64(len(accounts)), nil
}

func (m *Memory) WithinTx(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &Memory{nextID: m.nextID, accounts: maps.Clone(m.accounts)}
	if err := fn(tx); err != nil {
		return err
	}
	m.nextID = tx.nextID
	m.accounts = tx.accounts
	return nil
}
