package rewards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository applies grants to the users table inside one transaction.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Apply records the grant and credits the helper. A grant already recorded
// for the request yields OutcomeDuplicate; a missing helper yields
// OutcomeHelperMissing and rolls the grant row back.
func (r *Repository) Apply(ctx context.Context, g Grant, stars, couponThreshold int) (Result, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin grant tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
insert into reward_grants (request_id, helper_id, stars)
values ($1, $2, $3)
on conflict (request_id) do nothing`, g.RequestID, g.HelperID, stars)
	if err != nil {
		return Result{}, fmt.Errorf("insert grant: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Result{}, fmt.Errorf("insert grant rows: %w", err)
	} else if n == 0 {
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	var total int
	err = tx.QueryRowContext(ctx, `
update users set stars = stars + $2, updated_at = now()
where id::text = $1
returning stars`, g.HelperID, stars).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{Outcome: OutcomeHelperMissing}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("increment stars: %w", err)
	}

	latch, err := tx.ExecContext(ctx, `
update users set coupon_earned = true, updated_at = now()
where id::text = $1 and coupon_earned = false and stars >= $2`, g.HelperID, couponThreshold)
	if err != nil {
		return Result{}, fmt.Errorf("latch coupon: %w", err)
	}
	flipped, err := latch.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("latch coupon rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit grant: %w", err)
	}

	return Result{Outcome: OutcomeGranted, Stars: total, CouponEarned: flipped == 1}, nil
}
