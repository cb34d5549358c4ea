package store

import (
	"context"
	"errors"
	"math"
	"testing"

	"my-bank-api/internal/domain"

	"github.com/shopspring/decimal"
)

// runContract exercises behavior every Store implementation must share.
// st must be empty.
func runContract(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	seed := []domain.Account{
		{Name: "Carla", Branch: 10, AccountNumber: 3, Balance: 500},
		{Name: "Bruno", Branch: 10, AccountNumber: 2, Balance: 500},
		{Name: "Ana", Branch: 20, AccountNumber: 1, Balance: 10},
		{Name: "Davi", Branch: 20, AccountNumber: 4, Balance: 10},
		{Name: "Eva", Branch: 30, AccountNumber: 5, Balance: 70},
	}
	n, err := st.Insert(ctx, seed)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if n != int64(len(seed)) {
		t.Fatalf("inserted=%d want=%d", n, len(seed))
	}

	t.Run("lookup", func(t *testing.T) {
		a, err := st.FindByBranchAndAccount(ctx, 10, 2)
		if err != nil {
			t.Fatal(err)
		}
		if a.Name != "Bruno" || a.Balance != 500 || a.OriginBranch != nil {
			t.Fatalf("got %+v", a)
		}
		if _, err := st.FindByBranchAndAccount(ctx, 20, 2); !errors.Is(err, ErrNotFound) {
			t.Fatalf("wrong branch: want ErrNotFound, got %v", err)
		}
		a, err = st.FindByAccountNumber(ctx, 5)
		if err != nil || a.Branch != 30 {
			t.Fatalf("FindByAccountNumber: %+v %v", a, err)
		}
	})

	t.Run("listing", func(t *testing.T) {
		all, err := st.FindAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 5 {
			t.Fatalf("len=%d", len(all))
		}
		branch, err := st.FindByBranch(ctx, 20)
		if err != nil {
			t.Fatal(err)
		}
		if len(branch) != 2 || branch[0].AccountNumber != 1 || branch[1].AccountNumber != 4 {
			t.Fatalf("branch 20=%+v", branch)
		}
		branches, err := st.DistinctBranches(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(branches) != 3 || branches[0] != 10 || branches[2] != 30 {
			t.Fatalf("branches=%v", branches)
		}
	})

	t.Run("average", func(t *testing.T) {
		avg, err := st.AverageBalance(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if avg.IntPart() != 500 {
			t.Fatalf("avg=%s", avg)
		}
		if _, err := st.AverageBalance(ctx, 77); !errors.Is(err, ErrNotFound) {
			t.Fatalf("empty branch: want ErrNotFound, got %v", err)
		}
	})

	t.Run("ranking", func(t *testing.T) {
		desc, err := st.SortedByBalance(ctx, RankQuery{Limit: 3})
		if err != nil {
			t.Fatal(err)
		}
		if desc[0].Name != "Bruno" || desc[1].Name != "Carla" || desc[2].Name != "Eva" {
			t.Fatalf("desc=%+v", desc)
		}

		asc, err := st.SortedByBalance(ctx, RankQuery{Ascending: true, Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if asc[0].AccountNumber != 1 || asc[1].AccountNumber != 4 {
			t.Fatalf("asc=%+v", asc)
		}

		branch := 30
		top, err := st.SortedByBalance(ctx, RankQuery{Limit: 1, Branch: &branch})
		if err != nil {
			t.Fatal(err)
		}
		if len(top) != 1 || top[0].Name != "Eva" {
			t.Fatalf("branch top=%+v", top)
		}

		if _, err := st.SortedByBalance(ctx, RankQuery{Limit: 0}); !errors.Is(err, ErrValidation) {
			t.Fatalf("zero limit: want ErrValidation, got %v", err)
		}
	})

	t.Run("balance updates", func(t *testing.T) {
		a, err := st.AddToBalance(ctx, 20, 1, 15)
		if err != nil {
			t.Fatal(err)
		}
		if a.Balance != 25 {
			t.Fatalf("balance=%d want=25", a.Balance)
		}
		if _, err := st.AddToBalance(ctx, 20, 1, -26); !errors.Is(err, ErrNegativeBalance) {
			t.Fatalf("want ErrNegativeBalance, got %v", err)
		}
		if _, err := st.AddToBalance(ctx, 20, 99, 1); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
		a, err = st.AddToBalance(ctx, 20, 1, -25)
		if err != nil || a.Balance != 0 {
			t.Fatalf("drain: %+v %v", a, err)
		}

		a, err = st.UpdateBalance(ctx, 20, 1, 10)
		if err != nil || a.Balance != 10 {
			t.Fatalf("UpdateBalance: %+v %v", a, err)
		}
		if _, err := st.UpdateBalance(ctx, 20, 1, -1); !errors.Is(err, ErrNegativeBalance) {
			t.Fatalf("want ErrNegativeBalance, got %v", err)
		}
	})

	t.Run("branch move remembers origin", func(t *testing.T) {
		a, err := st.FindByAccountNumber(ctx, 5)
		if err != nil {
			t.Fatal(err)
		}
		moved, err := st.UpdateBranchByID(ctx, a.ID, domain.PrivateBranch)
		if err != nil {
			t.Fatal(err)
		}
		if moved.Branch != domain.PrivateBranch || moved.OriginBranch == nil || *moved.OriginBranch != 30 {
			t.Fatalf("moved=%+v", moved)
		}
		// Moving to the same branch keeps the recorded origin.
		again, err := st.UpdateBranchByID(ctx, a.ID, domain.PrivateBranch)
		if err != nil || again.OriginBranch == nil || *again.OriginBranch != 30 {
			t.Fatalf("again=%+v %v", again, err)
		}
		if _, err := st.UpdateBranchByID(ctx, -1, 10); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("transaction rollback", func(t *testing.T) {
		errAbort := errors.New("abort")
		err := st.WithinTx(ctx, func(tx Store) error {
			if _, err := tx.AddToBalance(ctx, 10, 2, -100); err != nil {
				return err
			}
			if _, err := tx.DeleteByBranchAndAccount(ctx, 10, 3); err != nil {
				return err
			}
			return errAbort
		})
		if !errors.Is(err, errAbort) {
			t.Fatalf("want errAbort, got %v", err)
		}
		a, _ := st.FindByBranchAndAccount(ctx, 10, 2)
		if a.Balance != 500 {
			t.Fatalf("rolled back debit persisted: %d", a.Balance)
		}
		if _, err := st.FindByBranchAndAccount(ctx, 10, 3); err != nil {
			t.Fatalf("rolled back delete persisted: %v", err)
		}
	})

	t.Run("transaction commit", func(t *testing.T) {
		var remaining int64
		err := st.WithinTx(ctx, func(tx Store) error {
			if _, err := tx.DeleteByBranchAndAccount(ctx, 10, 3); err != nil {
				return err
			}
			n, err := tx.CountByBranch(ctx, 10)
			remaining = n
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		if remaining != 1 {
			t.Fatalf("remaining=%d want=1", remaining)
		}
		if _, err := st.FindByBranchAndAccount(ctx, 10, 3); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
		if _, err := st.DeleteByBranchAndAccount(ctx, 10, 3); !errors.Is(err, ErrNotFound) {
			t.Fatalf("second delete: want ErrNotFound, got %v", err)
		}
	})

	t.Run("balance overflow", func(t *testing.T) {
		if _, err := st.AddToBalance(ctx, 10, 2, math.MaxInt64); !errors.Is(err, ErrOverflow) {
			t.Fatalf("want ErrOverflow, got %v", err)
		}
		a, err := st.FindByBranchAndAccount(ctx, 10, 2)
		if err != nil || a.Balance != 500 {
			t.Fatalf("overflowing add changed balance: %+v %v", a, err)
		}
	})

	t.Run("average of large balances", func(t *testing.T) {
		big := []domain.Account{
			{Name: "Hugo", Branch: 50, AccountNumber: 80, Balance: math.MaxInt64},
			{Name: "Iris", Branch: 50, AccountNumber: 81, Balance: math.MaxInt64},
		}
		if _, err := st.Insert(ctx, big); err != nil {
			t.Fatal(err)
		}
		avg, err := st.AverageBalance(ctx, 50)
		if err != nil {
			t.Fatal(err)
		}
		if !avg.Equal(decimal.NewFromInt(math.MaxInt64)) {
			t.Fatalf("avg=%s want=%d", avg, int64(math.MaxInt64))
		}
	})

	t.Run("name ties use byte order", func(t *testing.T) {
		tied := []domain.Account{
			{Name: "bruno", Branch: 40, AccountNumber: 70, Balance: 10_000},
			{Name: "Zeca", Branch: 40, AccountNumber: 71, Balance: 10_000},
		}
		if _, err := st.Insert(ctx, tied); err != nil {
			t.Fatal(err)
		}
		branch := 40
		top, err := st.SortedByBalance(ctx, RankQuery{Limit: 2, Branch: &branch})
		if err != nil {
			t.Fatal(err)
		}
		// Upper case sorts before lower case in byte order.
		if len(top) != 2 || top[0].Name != "Zeca" || top[1].Name != "bruno" {
			t.Fatalf("top=%+v want [Zeca bruno]", top)
		}
	})

	t.Run("insert rejects bad batches", func(t *testing.T) {
		dup := []domain.Account{{Name: "Fia", Branch: 10, AccountNumber: 1, Balance: 1}}
		if _, err := st.Insert(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("want ErrDuplicate, got %v", err)
		}
		bad := []domain.Account{
			{Name: "Gil", Branch: 10, AccountNumber: 60, Balance: 1},
			{Name: "", Branch: 10, AccountNumber: 61, Balance: 1},
		}
		if _, err := st.Insert(ctx, bad); !errors.Is(err, ErrValidation) {
			t.Fatalf("want ErrValidation, got %v", err)
		}
		if _, err := st.FindByAccountNumber(ctx, 60); !errors.Is(err, ErrNotFound) {
			t.Fatalf("partial batch persisted: %v", err)
		}
	})
}
