package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/krellgit/claude-autonomy-tracker/internal/models"
)

// DefaultClaimTimeout is how long an unfinished digest claim blocks its slot
// before another owner may take it over.
const DefaultClaimTimeout = 10 * time.Minute

// ErrDigestClaimed is returned when another owner holds or has completed the
// digest for a slot.
var ErrDigestClaimed = errors.New("store: digest slot already claimed")

// ClaimDigest reserves slot for owner. An active claim older than timeout is
// considered abandoned and is taken over. The returned run must be passed to
// FinishDigest once delivery ends.
func (s *Store) ClaimDigest(ctx context.Context, slot time.Time, owner string, timeout time.Duration) (*models.DigestRun, error) {
	if timeout <= 0 {
		timeout = DefaultClaimTimeout
	}
	slot = slot.UTC().Truncate(time.Minute)
	now := time.Now().UTC()
	tx := s.db.WithContext(ctx)

	// Take over an abandoned claim.
	res := tx.Model(&models.DigestRun{}).
		Where("slot = ? AND status = ? AND started_at < ?", slot, models.DigestActive, now.Add(-timeout)).
		Updates(map[string]interface{}{"owner": owner, "started_at": now})
	if res.Error != nil {
		return nil, wrap("claim digest", res.Error)
	}
	if res.RowsAffected > 0 {
		var run models.DigestRun
		if err := tx.Where("slot = ?", slot).First(&run).Error; err != nil {
			return nil, wrap("claim digest", err)
		}
		return &run, nil
	}

	run := &models.DigestRun{Slot: slot, Owner: owner, Status: models.DigestActive, StartedAt: now}
	if err := tx.Create(run).Error; err != nil {
		// Losing the race for the unique slot surfaces as a driver-specific
		// constraint error, so look for the winner instead of parsing it.
		var n int64
		if cerr := tx.Model(&models.DigestRun{}).Where("slot = ?", slot).Count(&n).Error; cerr == nil && n > 0 {
			return nil, ErrDigestClaimed
		}
		return nil, wrap("claim digest", err)
	}
	return run, nil
}

// FinishDigest closes an active claim as sent, or as failed when sendErr is
// set.
func (s *Store) FinishDigest(ctx context.Context, id uint, sendErr error) error {
	updates := map[string]interface{}{
		"status":       models.DigestSent,
		"completed_at": time.Now().UTC(),
	}
	if sendErr != nil {
		updates["status"] = models.DigestFailed
		updates["error"] = sendErr.Error()
	}
	res := s.db.WithContext(ctx).Model(&models.DigestRun{}).
		Where("id = ? AND status = ?", id, models.DigestActive).
		Updates(updates)
	if res.Error != nil {
		return wrap("finish digest", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrap("finish digest", fmt.Errorf("run %d not found or not active", id))
	}
	return nil
}
