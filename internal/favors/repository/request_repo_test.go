package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/idan55/makeamitsva-backend/internal/favors/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func newRequest(t *testing.T, creator string, at domain.Point, now time.Time) *domain.Request {
	t.Helper()

	req, err := domain.NewRequest(domain.CreateRequestInput{
		Title:       "help",
		Description: "carry a sofa",
		Location:    at,
		CreatorID:   creator,
	}, now, domain.DefaultTTL)
	require.NoError(t, err)
	return req
}

var center = domain.Point{Lng: 34.78, Lat: 32.08}

func TestCreateAndGet(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := NewRequestRepository(client)
	ctx := context.Background()
	now := time.Now()

	req := newRequest(t, "creator", center, now)
	require.NoError(t, repo.Create(ctx, req))

	got, err := repo.Get(ctx, req.ID, now)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, "help", got.Title)
	assert.Equal(t, domain.UrgencyNormal, got.Urgency)
	assert.InDelta(t, 34.78, got.Location.Lng, 1e-9)
	assert.True(t, got.ExpiresAt.Equal(req.ExpiresAt))
	assert.Equal(t, domain.StateOpen, got.State())

	assert.True(t, mr.Exists("favor:req:"+req.ID))
	assert.Greater(t, mr.TTL("favor:req:"+req.ID), 24*time.Hour)

	_, err = repo.Get(ctx, req.ID, req.ExpiresAt)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.Get(ctx, "missing", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaim(t *testing.T) {
	_, client := setupTestRedis(t)
	repo := NewRequestRepository(client)
	ctx := context.Background()
	now := time.Now()

	req := newRequest(t, "creator", center, now)
	require.NoError(t, repo.Create(ctx, req))

	t.Run("creator cannot claim", func(t *testing.T) {
		_, _, err := repo.Claim(ctx, req.ID, "creator", now)
		assert.ErrorIs(t, err, domain.ErrSelfHelp)

		got, err := repo.Get(ctx, req.ID, now)
		require.NoError(t, err)
		assert.Equal(t, domain.StateOpen, got.State())
	})

	t.Run("first helper wins", func(t *testing.T) {
		out, got, err := repo.Claim(ctx, req.ID, "helper-a", now)
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimApplied, out)
		assert.Equal(t, "helper-a", got.CompletedBy)
		assert.True(t, got.HelperConfirmed)
		assert.Equal(t, domain.StateClaimed, got.State())
	})

	t.Run("same helper re-claim is a no-op", func(t *testing.T) {
		out, got, err := repo.Claim(ctx, req.ID, "helper-a", now)
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimUnchanged, out)
		assert.Equal(t, "helper-a", got.CompletedBy)
	})

	t.Run("other helper is rejected", func(t *testing.T) {
		_, _, err := repo.Claim(ctx, req.ID, "helper-b", now)
		assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	})

	t.Run("expired or missing is not found", func(t *testing.T) {
		_, _, err := repo.Claim(ctx, req.ID, "helper-a", req.ExpiresAt.Add(time.Second))
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, _, err = repo.Claim(ctx, "nope", "helper-a", now)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestClaim_ConcurrentHelpersSingleWinner(t *testing.T) {
	_, client := setupTestRedis(t)
	repo := NewRequestRepository(client)
	ctx := context.Background()
	now := time.Now()

	req := newRequest(t, "creator", center, now)
	require.NoError(t, repo.Create(ctx, req))

	helpers := []string{"h1", "h2", "h3", "h4", "h5", "h6", "h7", "h8"}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for _, h := range helpers {
		wg.Add(1)
		go func(helper string) {
			defer wg.Done()
			_, _, err := repo.Claim(ctx, req.ID, helper, now)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, domain.ErrAlreadyClaimed) {
				rejected++
			}
		}(h)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, len(helpers)-1, rejected)
}

func TestConfirm(t *testing.T) {
	_, client := setupTestRedis(t)
	repo := NewRequestRepository(client)
	ctx := context.Background()
	now := time.Now()

	req := newRequest(t, "creator", center, now)
	require.NoError(t, repo.Create(ctx, req))

	_, _, err := repo.Confirm(ctx, req.ID, "creator", now)
	assert.ErrorIs(t, err, domain.ErrNoHelperAssigned)

	_, _, err = repo.Claim(ctx, req.ID, "helper", now)
	require.NoError(t, err)

	_, _, err = repo.Confirm(ctx, req.ID, "helper", now)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	out, got, err := repo.Confirm(ctx, req.ID, "creator", now)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmClosed, out)
	assert.True(t, got.IsCompleted)
	assert.True(t, got.SeekerConfirmed)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, domain.StateClosed, got.State())

	out, got, err = repo.Confirm(ctx, req.ID, "creator", now)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmUnchanged, out)
	assert.True(t, got.IsCompleted)

	hits, err := repo.Nearby(ctx, domain.NearbyQuery{Center: center, RadiusMeters: 1000}, now)
	require.NoError(t, err)
	assert.Empty(t, hits, "closed request left the open index")
}

func TestConfirm_ConcurrentCallsCloseOnce(t *testing.T) {
	_, client := setupTestRedis(t)
	repo := NewRequestRepository(client)
	ctx := context.Background()
	now := time.Now()

	req := newRequest(t, "creator", center, now)
	require.NoError(t, repo.Create(ctx, req))
	_, _, err := repo.Claim(ctx, req.ID, "helper", now)
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		closed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _, err := repo.Confirm(ctx, req.ID, "creator", now)
			if !assert.NoError(t, err) {
				return
			}
			if out == domain.ConfirmClosed {
				mu.Lock()
				closed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, closed)
}

func TestNearby(t *testing.T) {
	_, client := setupTestRedis(t)
	repo := NewRequestRepository(client)
	ctx := context.Background()
	now := time.Now()

	near := newRequest(t, "a", domain.Point{Lng: 34.781, Lat: 32.081}, now)     // ~150 m
	mid := newRequest(t, "b", domain.Point{Lng: 34.79, Lat: 32.09}, now)        // ~1.4 km
	far := newRequest(t, "c", domain.Point{Lng: 35.21, Lat: 31.77}, now)        // Jerusalem, ~54 km
	stale := newRequest(t, "d", domain.Point{Lng: 34.782, Lat: 32.082}, now.Add(-25*time.Hour))
	for _, req := range []*domain.Request{mid, far, near, stale} {
		require.NoError(t, repo.Create(ctx, req))
	}

	hits, err := repo.Nearby(ctx, domain.NearbyQuery{Center: center, RadiusMeters: 5000}, now)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, near.ID, hits[0].Request.ID)
	assert.Equal(t, mid.ID, hits[1].Request.ID)
	assert.Less(t, hits[0].Distance, hits[1].Distance)
	for _, h := range hits {
		assert.LessOrEqual(t, h.Distance, 5000.0)
	}

	hits, err = repo.Nearby(ctx, domain.NearbyQuery{Center: domain.Point{Lng: 0, Lat: 0}, RadiusMeters: 100}, now)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestNearby_PrunesDanglingGeoMembers(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := NewRequestRepository(client)
	ctx := context.Background()
	now := time.Now()

	req := newRequest(t, "a", center, now)
	require.NoError(t, repo.Create(ctx, req))
	mr.Del("favor:req:" + req.ID)

	hits, err := repo.Nearby(ctx, domain.NearbyQuery{Center: center, RadiusMeters: 100}, now)
	require.NoError(t, err)
	assert.Empty(t, hits)

	members, err := client.ZRange(ctx, openGeoKey, 0, -1).Result()
	require.NoError(t, err)
	assert.NotContains(t, members, req.ID)
}

func TestListIndexes(t *testing.T) {
	_, client := setupTestRedis(t)
	repo := NewRequestRepository(client)
	ctx := context.Background()
	now := time.Now()

	older := newRequest(t, "creator", center, now.Add(-2*time.Hour))
	newer := newRequest(t, "creator", center, now.Add(-time.Hour))
	other := newRequest(t, "someone", center, now)
	for _, req := range []*domain.Request{older, newer, other} {
		require.NoError(t, repo.Create(ctx, req))
	}

	created, err := repo.ListCreatedBy(ctx, "creator", now)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, newer.ID, created[0].ID, "newest first")
	assert.Equal(t, older.ID, created[1].ID)

	_, _, err = repo.Claim(ctx, other.ID, "creator", now)
	require.NoError(t, err)

	claimed, err := repo.ListClaimedBy(ctx, "creator", now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, other.ID, claimed[0].ID)

	empty, err := repo.ListClaimedBy(ctx, "nobody", now)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestExpiredAndDelete(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := NewRequestRepository(client)
	ctx := context.Background()
	now := time.Now()

	live := newRequest(t, "creator", center, now)
	old := newRequest(t, "creator", center, now.Add(-30*time.Hour))
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, old))

	ids, err := repo.Expired(ctx, now, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, ids)

	_, _, err = repo.Claim(ctx, live.ID, "helper", now)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, live.ID))

	assert.False(t, mr.Exists("favor:req:"+live.ID))
	created, err := client.ZRange(ctx, createdIndexKey("creator"), 0, -1).Result()
	require.NoError(t, err)
	assert.NotContains(t, created, live.ID)
	claimed, err := client.ZRange(ctx, claimedIndexKey("helper"), 0, -1).Result()
	require.NoError(t, err)
	assert.Empty(t, claimed)
	expiring, err := client.ZRange(ctx, expiryKey, 0, -1).Result()
	require.NoError(t, err)
	assert.NotContains(t, expiring, live.ID)
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	_, client := setupTestRedis(t)
	repo := NewRequestRepository(client)
	ctx := context.Background()
	now := time.Now()

	req := newRequest(t, "creator", center, now)
	require.NoError(t, repo.Create(ctx, req))

	sub := repo.Subscribe(ctx, req.ID)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	_, _, err = repo.Claim(ctx, req.ID, "helper", now)
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"completedBy":"helper"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

// The scripts are the atomic form of domain.CheckClaim and domain.CheckConfirm;
// both must agree on every reachable state.
func TestTransitionScriptsMatchDomainChecks(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	states := []struct {
		name  string
		setup func(t *testing.T, repo *RequestRepository, id string)
	}{
		{"open", func(*testing.T, *RequestRepository, string) {}},
		{"claimed", func(t *testing.T, repo *RequestRepository, id string) {
			_, _, err := repo.Claim(ctx, id, "helper", now)
			require.NoError(t, err)
		}},
		{"closed", func(t *testing.T, repo *RequestRepository, id string) {
			_, _, err := repo.Claim(ctx, id, "helper", now)
			require.NoError(t, err)
			_, _, err = repo.Confirm(ctx, id, "creator", now)
			require.NoError(t, err)
		}},
	}
	callers := []string{"creator", "helper", "other"}

	for _, st := range states {
		for _, expired := range []bool{false, true} {
			for _, caller := range callers {
				name := st.name + "/" + caller
				if expired {
					name += "/expired"
				}

				t.Run("claim/"+name, func(t *testing.T) {
					_, client := setupTestRedis(t)
					repo := NewRequestRepository(client)
					req := newRequest(t, "creator", center, now)
					require.NoError(t, repo.Create(ctx, req))
					st.setup(t, repo, req.ID)

					at := now
					if expired {
						at = req.ExpiresAt
					}
					loaded, err := repo.Get(ctx, req.ID, at)
					if err != nil {
						loaded = nil
					}
					want, wantErr := domain.CheckClaim(loaded, caller, at)

					got, _, err := repo.Claim(ctx, req.ID, caller, at)
					if wantErr != nil {
						assert.ErrorIs(t, err, wantErr)
						return
					}
					require.NoError(t, err)
					assert.Equal(t, want, got)
				})

				t.Run("confirm/"+name, func(t *testing.T) {
					_, client := setupTestRedis(t)
					repo := NewRequestRepository(client)
					req := newRequest(t, "creator", center, now)
					require.NoError(t, repo.Create(ctx, req))
					st.setup(t, repo, req.ID)

					at := now
					if expired {
						at = req.ExpiresAt
					}
					loaded, err := repo.Get(ctx, req.ID, at)
					if err != nil {
						loaded = nil
					}
					want, wantErr := domain.CheckConfirm(loaded, caller, at)

					got, _, err := repo.Confirm(ctx, req.ID, caller, at)
					if wantErr != nil {
						assert.ErrorIs(t, err, wantErr)
						return
					}
					require.NoError(t, err)
					assert.Equal(t, want, got)
				})
			}
		}
	}
}
