package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/idan55/makeamitsva-backend/internal/auth/domain"
	favors "github.com/idan55/makeamitsva-backend/internal/favors/domain"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id::text, firebase_uid, coalesce(email, ''), name, coalesce(profile_image, ''),
	role, stars, coupon_earned, is_banned, created_at, updated_at`

// Upsert creates the user on first sight and refreshes profile fields on
// later calls. Reward and ban columns are never touched here.
func (r *UserRepository) Upsert(ctx context.Context, u domain.UpsertUser) (*domain.User, error) {
	if strings.TrimSpace(u.FirebaseUID) == "" {
		return nil, fmt.Errorf("firebase_uid required")
	}

	q := `
insert into users (firebase_uid, email, name, profile_image, updated_at)
values ($1, nullif($2,''), coalesce(nullif($3,''), 'anonymous'), nullif($4,''), now())
on conflict (firebase_uid) do update
set
  email = coalesce(excluded.email, users.email),
  name = case when $3 = '' then users.name else excluded.name end,
  profile_image = coalesce(excluded.profile_image, users.profile_image),
  updated_at = now()
returning ` + userColumns

	row := r.db.QueryRowContext(ctx, q, u.FirebaseUID, u.Email, strings.TrimSpace(u.Name), u.ProfileImage)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `select `+userColumns+` from users where id::text = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// Summaries resolves ids in one query. Ids with no row are absent from the map.
func (r *UserRepository) Summaries(ctx context.Context, ids []string) (map[string]favors.UserSummary, error) {
	out := make(map[string]favors.UserSummary, len(ids))
	ids = dedupe(ids)
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	q := `select id::text, name, coalesce(profile_image, ''), stars from users where id::text in (` +
		strings.Join(placeholders, ", ") + `)`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query user summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s favors.UserSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.ProfileImage, &s.Stars); err != nil {
			return nil, fmt.Errorf("scan user summary: %w", err)
		}
		out[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user summaries: %w", err)
	}
	return out, nil
}

// Ping reports whether Postgres is reachable.
func (r *UserRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.FirebaseUID,
		&u.Email,
		&u.Name,
		&u.ProfileImage,
		&u.Role,
		&u.Stars,
		&u.CouponEarned,
		&u.IsBanned,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
