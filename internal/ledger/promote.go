package ledger

import (
	"context"
	"errors"

	"my-bank-api/internal/domain"
	"my-bank-api/internal/lock"
	"my-bank-api/internal/store"

	"golang.org/x/sync/errgroup"
)

const promoteLockKey = "promote-private-branch"

// PromoteRichest moves the richest client of every branch into the private
// branch and returns the private branch's accounts.
//
// The private branch itself is never scanned, and a branch that already
// has a promoted client (recorded as its origin branch) is skipped, so a
// second run without new branches changes nothing. Ties on balance go to
// the lower name, then the lower account number.
//
// Selection and reassignment run as two bounded concurrent phases; the
// result is read only after every reassignment has finished. Each
// reassignment commits on its own.
func (s *Service) PromoteRichest(ctx context.Context) ([]domain.Account, error) {
	const op = "promote richest"

	release, err := s.locker.Acquire(ctx, promoteLockKey)
	if errors.Is(err, lock.ErrHeld) {
		return nil, ErrPromotionInProgress
	}
	if err != nil {
		return nil, internal(op, err)
	}
	defer release()

	branches, err := s.pendingBranches(ctx)
	if err != nil {
		return nil, internal(op, err)
	}

	picked, err := s.pickRichest(ctx, branches)
	if err != nil {
		return nil, internal(op, err)
	}

	if err := s.moveToPrivate(ctx, picked); err != nil {
		return nil, internal(op, err)
	}

	private, err := s.st.FindByBranch(ctx, domain.PrivateBranch)
	if err != nil {
		return nil, internal(op, err)
	}
	return private, nil
}

// pendingBranches lists branches that still have to contribute a client.
func (s *Service) pendingBranches(ctx context.Context) ([]int, error) {
	all, err := s.st.DistinctBranches(ctx)
	if err != nil {
		return nil, err
	}
	private, err := s.st.FindByBranch(ctx, domain.PrivateBranch)
	if err != nil {
		return nil, err
	}

	done := make(map[int]struct{}, len(private))
	for _, a := range private {
		if a.OriginBranch != nil {
			done[*a.OriginBranch] = struct{}{}
		}
	}

	out := make([]int, 0, len(all))
	for _, b := range all {
		if b == domain.PrivateBranch {
			continue
		}
		if _, ok := done[b]; ok {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Service) pickRichest(ctx context.Context, branches []int) ([]domain.Account, error) {
	slots := make([]*domain.Account, len(branches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.promoteConcurrency)
	for i, branch := range branches {
		g.Go(func() error {
			top, err := s.st.SortedByBalance(gctx, store.RankQuery{Limit: 1, Branch: &branch})
			if err != nil {
				return err
			}
			// The branch may have emptied since it was listed.
			if len(top) == 1 {
				slots[i] = &top[0]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	picked := make([]domain.Account, 0, len(slots))
	for _, a := range slots {
		if a != nil {
			picked = append(picked, *a)
		}
	}
	return picked, nil
}

func (s *Service) moveToPrivate(ctx context.Context, accounts []domain.Account) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.promoteConcurrency)
	for _, a := range accounts {
		g.Go(func() error {
			_, err := s.st.UpdateBranchByID(gctx, a.ID, domain.PrivateBranch)
			if errors.Is(err, store.ErrNotFound) {
				// closed in the meantime
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
