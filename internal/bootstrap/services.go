package bootstrap

import (
	"database/sql"

	"github.com/idan55/makeamitsva-backend/config"
	authrepo "github.com/idan55/makeamitsva-backend/internal/auth/repository"
	authservice "github.com/idan55/makeamitsva-backend/internal/auth/service"
	"github.com/idan55/makeamitsva-backend/internal/expiry"
	"github.com/idan55/makeamitsva-backend/internal/favors/repository"
	"github.com/idan55/makeamitsva-backend/internal/favors/service"
	"github.com/idan55/makeamitsva-backend/internal/logging"
	"github.com/idan55/makeamitsva-backend/internal/rewards"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Services is the wired application graph shared by the API and the worker.
type Services struct {
	Users    *authrepo.UserRepository
	Requests *repository.RequestRepository
	Auth     *authservice.AuthService
	Favors   *service.RequestService
	Ledger   *rewards.Ledger
	Reaper   *expiry.Reaper
}

func NewServices(cfg *config.Config, db *sql.DB, rdb redis.UniversalClient, log logrus.FieldLogger) *Services {
	users := authrepo.NewUserRepository(db)
	requests := repository.NewRequestRepository(rdb)

	ledger := rewards.NewLedger(
		rewards.NewRepository(db),
		rewards.NewRedisNotifier(rdb),
		logging.Component(log, "rewards"),
		rewards.Options{
			StarsPerCompletion: cfg.Rewards.StarsPerCompletion,
			CouponThreshold:    cfg.Rewards.CouponThreshold,
		},
	)

	return &Services{
		Users:    users,
		Requests: requests,
		Auth:     authservice.NewAuthService(users, logging.Component(log, "auth")),
		Favors: service.NewRequestService(requests, users, ledger, logging.Component(log, "favors"), service.Options{
			TTL:             cfg.Requests.TTL,
			MaxRadiusMeters: cfg.Requests.MaxRadiusMeters,
		}),
		Ledger: ledger,
		Reaper: expiry.NewReaper(requests, logging.Component(log, "expiry")),
	}
}
