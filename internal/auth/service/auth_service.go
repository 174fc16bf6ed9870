package service

import (
	"context"
	"errors"

	"github.com/idan55/makeamitsva-backend/internal/auth/domain"
	"github.com/sirupsen/logrus"
)

// UserStore is the persistence the auth service needs.
type UserStore interface {
	Upsert(ctx context.Context, u domain.UpsertUser) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type AuthService struct {
	users UserStore
	log   *logrus.Entry
}

func NewAuthService(users UserStore, log *logrus.Entry) *AuthService {
	return &AuthService{users: users, log: log}
}

// ResolveCaller syncs the identity-provider record into our users table and
// applies the ban gate. Banned users get the user back with ErrUserBanned.
func (s *AuthService) ResolveCaller(ctx context.Context, u domain.UpsertUser) (*domain.User, error) {
	user, err := s.users.Upsert(ctx, u)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		s.log.WithField("user_id", user.ID).Warn("banned user rejected")
		return user, domain.ErrUserBanned
	}
	return user, nil
}

// GetProfile returns the caller's own record including stars and coupon state.
func (s *AuthService) GetProfile(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	if err != nil {
		s.log.WithError(err).WithField("user_id", id).Error("load profile")
		return nil, err
	}
	return user, nil
}
