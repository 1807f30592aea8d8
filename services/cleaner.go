// services/cleaner.go
package services

import (
	"context"
	"errors"
	"fmt"

	"heads-or-tails/models"
	"heads-or-tails/registry"
)

const cleanerPageSize = 200

// IsPrivileged reports whether caller may run maintenance operations.
func (s *CoinFlipService) IsPrivileged(caller Caller) bool {
	if caller.HasRole(RoleAdmin) {
		return true
	}
	for _, id := range s.Rules.Admins {
		if caller.ID != "" && id == caller.ID {
			return true
		}
	}
	return false
}

// StateCleaner purges every Ended game and returns how many were removed.
// Games in any other state are never touched. When an archive is configured,
// each game is archived first and a game whose archive write fails stays for
// the next run.
func (s *CoinFlipService) StateCleaner(ctx context.Context, caller Caller) (int, error) {
	if !s.IsPrivileged(caller) {
		s.Metrics.Rejected.Inc(1)
		return 0, fmt.Errorf("%w: %q", ErrNotPrivileged, caller.ID)
	}

	if s.Archive == nil {
		removed := 0
		err := s.atomic(ctx, "state_cleaner", func(tx registry.Tx) error {
			removed = 0
			return tx.Scan(models.GameEnded, func(g *models.Game) error {
				removed++
				return tx.Remove(g.ID)
			})
		})
		if err != nil {
			return 0, err
		}
		s.cleaned(caller, removed, 0)
		return removed, nil
	}

	// ended games never change again, so the archive pass reads without locks
	ended := models.GameEnded
	var archived []uint64
	kept := 0
	for from := uint64(0); ; {
		page, err := s.Registry.List(ctx, registry.Filter{State: &ended, FromID: from, Limit: cleanerPageSize})
		if err != nil {
			return 0, err
		}
		for i := range page {
			if err := s.Archive.ArchiveGame(ctx, &page[i]); err != nil {
				s.log.Warn("archive failed, keeping game", "id", page[i].ID, "err", err)
				kept++
				continue
			}
			archived = append(archived, page[i].ID)
		}
		if len(page) < cleanerPageSize {
			break
		}
		from = page[len(page)-1].ID + 1
	}

	removed := 0
	err := s.atomic(ctx, "state_cleaner", func(tx registry.Tx) error {
		removed = 0
		for _, id := range archived {
			g, err := tx.Get(id)
			if errors.Is(err, registry.ErrNotFound) {
				continue // another cleaner got there first
			}
			if err != nil {
				return err
			}
			if g.State != models.GameEnded {
				continue
			}
			if err := tx.Remove(id); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.cleaned(caller, removed, kept)
	return removed, nil
}

func (s *CoinFlipService) cleaned(caller Caller, removed, kept int) {
	s.Metrics.GamesCleaned.Inc(int64(removed))
	s.log.Info("gamesCleaned", "removed", removed, "kept", kept, "by", caller.ID)
}
