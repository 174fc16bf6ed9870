package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/idan55/makeamitsva-backend/internal/favors/domain"
	"github.com/idan55/makeamitsva-backend/internal/favors/repository"
	"github.com/idan55/makeamitsva-backend/internal/metrics"
	"github.com/idan55/makeamitsva-backend/internal/rewards"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RequestStore is the atomic request persistence the lifecycle runs on.
type RequestStore interface {
	Create(ctx context.Context, req *domain.Request) error
	Get(ctx context.Context, id string, now time.Time) (*domain.Request, error)
	Claim(ctx context.Context, id, helperID string, now time.Time) (domain.ClaimOutcome, *domain.Request, error)
	Confirm(ctx context.Context, id, callerID string, now time.Time) (domain.ConfirmOutcome, *domain.Request, error)
	Nearby(ctx context.Context, q domain.NearbyQuery, now time.Time) ([]repository.GeoHit, error)
	ListCreatedBy(ctx context.Context, userID string, now time.Time) ([]*domain.Request, error)
	ListClaimedBy(ctx context.Context, userID string, now time.Time) ([]*domain.Request, error)
	Subscribe(ctx context.Context, id string) *redis.PubSub
}

// UserDirectory resolves weak user references. Unknown ids are omitted.
type UserDirectory interface {
	Summaries(ctx context.Context, ids []string) (map[string]domain.UserSummary, error)
}

// RewardLedger pays the helper of a closed request. It reports, never fails.
type RewardLedger interface {
	Grant(ctx context.Context, g rewards.Grant) rewards.Result
}

type Options struct {
	TTL             time.Duration
	MaxRadiusMeters float64
	Now             func() time.Time
}

// RequestService handles the request lifecycle, discovery and query views.
type RequestService struct {
	store     RequestStore
	users     UserDirectory
	ledger    RewardLedger
	log       *logrus.Entry
	ttl       time.Duration
	maxRadius float64
	now       func() time.Time
}

func NewRequestService(store RequestStore, users UserDirectory, ledger RewardLedger, log *logrus.Entry, opt Options) *RequestService {
	if opt.TTL <= 0 {
		opt.TTL = domain.DefaultTTL
	}
	if opt.MaxRadiusMeters <= 0 {
		opt.MaxRadiusMeters = 50_000
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &RequestService{
		store:     store,
		users:     users,
		ledger:    ledger,
		log:       log,
		ttl:       opt.TTL,
		maxRadius: opt.MaxRadiusMeters,
		now:       opt.Now,
	}
}

// CreateRequest validates the input and stores a new OPEN request.
func (s *RequestService) CreateRequest(ctx context.Context, in domain.CreateRequestInput) (*domain.Request, error) {
	req, err := domain.NewRequest(in, s.now(), s.ttl)
	if err != nil {
		metrics.RecordTransition("create", domain.Code(err))
		return nil, err
	}

	if err := s.store.Create(ctx, req); err != nil {
		metrics.RecordTransition("create", domain.Code(err))
		s.log.WithError(err).WithField("creator_id", in.CreatorID).Error("create request")
		return nil, err
	}

	metrics.RecordTransition("create", "ok")
	s.log.WithFields(logrus.Fields{"request_id": req.ID, "creator_id": req.CreatedBy}).Info("request created")
	return req, nil
}

// DiscoverNearby returns open requests within the radius, nearest first,
// each joined with its creator. No hits is an empty slice, not an error.
func (s *RequestService) DiscoverNearby(ctx context.Context, q domain.NearbyQuery) ([]domain.NearbyRequest, error) {
	if err := q.Center.Validate(); err != nil {
		return nil, err
	}
	switch {
	case math.IsNaN(q.RadiusMeters) || math.IsInf(q.RadiusMeters, 0):
		return nil, domain.Invalid("distanceInMeters", "must be a number")
	case q.RadiusMeters < 0:
		return nil, domain.Invalid("distanceInMeters", "cannot be negative")
	case q.RadiusMeters > s.maxRadius:
		return nil, domain.Invalid("distanceInMeters", "cannot exceed %g", s.maxRadius)
	}

	hits, err := s.store.Nearby(ctx, q, s.now())
	if err != nil {
		s.log.WithError(err).Error("discover nearby")
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.Request.CreatedBy)
	}
	summaries, err := s.users.Summaries(ctx, ids)
	if err != nil {
		return nil, domain.Dependency("resolve creators", err)
	}

	out := make([]domain.NearbyRequest, 0, len(hits))
	for _, h := range hits {
		out = append(out, domain.NearbyRequest{
			Request:  h.Request,
			Distance: h.Distance,
			Creator:  summaryOf(summaries, h.Request.CreatedBy),
		})
	}
	return out, nil
}

// Claim assigns helperID to the request. Re-claim by the same helper is a no-op.
// The loaded request is checked first; the store script decides under races.
func (s *RequestService) Claim(ctx context.Context, requestID, helperID string) (*domain.RequestView, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, domain.ErrNotFound
	}

	now := s.now()
	current, err := s.store.Get(ctx, requestID, now)
	if err == nil {
		_, err = domain.CheckClaim(current, helperID, now)
	}
	var outcome domain.ClaimOutcome
	var req *domain.Request
	if err == nil {
		outcome, req, err = s.store.Claim(ctx, requestID, helperID, now)
	}
	if err != nil {
		metrics.RecordTransition("claim", domain.Code(err))
		s.log.WithError(err).WithFields(logrus.Fields{"request_id": requestID, "helper_id": helperID}).Info("claim rejected")
		return nil, err
	}

	metrics.RecordTransition("claim", string(outcome))
	if outcome == domain.ClaimApplied {
		s.log.WithFields(logrus.Fields{"request_id": requestID, "helper_id": helperID}).Info("request claimed")
	}
	return s.viewAfterWrite(ctx, req), nil
}

// Confirm records the creator's confirmation. The single call that closes
// the request pays the helper; reward failures do not fail the confirm.
func (s *RequestService) Confirm(ctx context.Context, requestID, callerID string) (*domain.RequestView, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, domain.ErrNotFound
	}

	now := s.now()
	current, err := s.store.Get(ctx, requestID, now)
	if err == nil {
		_, err = domain.CheckConfirm(current, callerID, now)
	}
	var outcome domain.ConfirmOutcome
	var req *domain.Request
	if err == nil {
		outcome, req, err = s.store.Confirm(ctx, requestID, callerID, now)
	}
	if err != nil {
		metrics.RecordTransition("confirm", domain.Code(err))
		s.log.WithError(err).WithFields(logrus.Fields{"request_id": requestID, "caller_id": callerID}).Info("confirm rejected")
		return nil, err
	}

	metrics.RecordTransition("confirm", string(outcome))
	if outcome == domain.ConfirmClosed {
		s.log.WithFields(logrus.Fields{"request_id": req.ID, "helper_id": req.CompletedBy}).Info("request closed")
		s.ledger.Grant(context.WithoutCancel(ctx), rewards.Grant{RequestID: req.ID, HelperID: req.CompletedBy})
	}
	return s.viewAfterWrite(ctx, req), nil
}

// GetRequest returns one live request, expanded.
func (s *RequestService) GetRequest(ctx context.Context, requestID string) (*domain.RequestView, error) {
	req, err := s.store.Get(ctx, requestID, s.now())
	if err != nil {
		return nil, err
	}
	views, err := s.expand(ctx, []*domain.Request{req})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListMineOpen: created by caller, not completed, newest first.
func (s *RequestService) ListMineOpen(ctx context.Context, callerID string) ([]domain.RequestView, error) {
	reqs, err := s.store.ListCreatedBy(ctx, callerID, s.now())
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, filter(reqs, func(r *domain.Request) bool { return !r.IsCompleted }))
}

// ListMineCompleted: created by caller, completed, newest first.
func (s *RequestService) ListMineCompleted(ctx context.Context, callerID string) ([]domain.RequestView, error) {
	reqs, err := s.store.ListCreatedBy(ctx, callerID, s.now())
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, filter(reqs, func(r *domain.Request) bool { return r.IsCompleted }))
}

// ListSolvedByMe: completed requests whose helper is the caller, newest first.
func (s *RequestService) ListSolvedByMe(ctx context.Context, callerID string) ([]domain.RequestView, error) {
	reqs, err := s.store.ListClaimedBy(ctx, callerID, s.now())
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, filter(reqs, func(r *domain.Request) bool {
		return r.IsCompleted && r.CompletedBy == callerID
	}))
}

// Watch opens an update subscription for a request the caller takes part in.
// The subscription is confirmed before the snapshot is read, so a transition
// is either in the snapshot or delivered on the channel.
func (s *RequestService) Watch(ctx context.Context, requestID, callerID string) (*domain.RequestView, *redis.PubSub, error) {
	sub := s.store.Subscribe(ctx, requestID)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, domain.Dependency("subscribe", err)
	}

	view, err := s.GetRequest(ctx, requestID)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	if callerID != view.CreatedBy && callerID != view.CompletedBy {
		sub.Close()
		return nil, nil, &domain.Error{Kind: domain.ErrForbidden, Msg: "only the creator or helper can watch this request"}
	}
	return view, sub, nil
}

// viewAfterWrite expands a just-written request. The write already happened,
// so a directory failure degrades to bare ids instead of failing the call.
func (s *RequestService) viewAfterWrite(ctx context.Context, req *domain.Request) *domain.RequestView {
	views, err := s.expand(ctx, []*domain.Request{req})
	if err == nil {
		return &views[0]
	}

	s.log.WithError(err).WithField("request_id", req.ID).Warn("expand users after write")
	view := domain.RequestView{
		Request: req,
		State:   req.State(),
		Creator: domain.UserSummary{ID: req.CreatedBy},
	}
	if req.CompletedBy != "" {
		view.Helper = &domain.UserSummary{ID: req.CompletedBy}
	}
	return &view
}

func (s *RequestService) expand(ctx context.Context, reqs []*domain.Request) ([]domain.RequestView, error) {
	out := make([]domain.RequestView, 0, len(reqs))
	if len(reqs) == 0 {
		return out, nil
	}

	ids := make([]string, 0, 2*len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.CreatedBy)
		if r.CompletedBy != "" {
			ids = append(ids, r.CompletedBy)
		}
	}
	summaries, err := s.users.Summaries(ctx, ids)
	if err != nil {
		return nil, domain.Dependency("resolve users", err)
	}

	for _, r := range reqs {
		view := domain.RequestView{
			Request: r,
			State:   r.State(),
			Creator: summaryOf(summaries, r.CreatedBy),
		}
		if r.CompletedBy != "" {
			helper := summaryOf(summaries, r.CompletedBy)
			view.Helper = &helper
		}
		out = append(out, view)
	}
	return out, nil
}

func summaryOf(m map[string]domain.UserSummary, id string) domain.UserSummary {
	if s, ok := m[id]; ok {
		return s
	}
	return domain.PlaceholderUser(id)
}

func filter(reqs []*domain.Request, keep func(*domain.Request) bool) []*domain.Request {
	out := reqs[:0:0]
	for _, r := range reqs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
