package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/idan55/makeamitsva-backend/internal/favors/domain"
	"github.com/redis/go-redis/v9"
)

const (
	requestKeyPrefix   = "favor:req:"    // hash per request: favor:req:{id}
	userKeyPrefix      = "favor:user:"   // per-user indexes: favor:user:{id}:created / :claimed
	eventChannelPrefix = "favor:events:" // pub/sub channel per request: favor:events:{id}
	openGeoKey         = "favor:geo:open"
	expiryKey          = "favor:expiry"

	// The hash outlives expiresAt by this much so the reaper can still read
	// the owner ids it needs to clean the user indexes. Reads filter on
	// expiresAt, so the grace window is never visible.
	reapGrace = 15 * time.Minute
)

// RequestRepository stores requests in Redis hashes with a GEO set of open
// requests, a sorted set of expiry deadlines and per-user sorted indexes.
type RequestRepository struct {
	client redis.UniversalClient
}

func NewRequestRepository(client redis.UniversalClient) *RequestRepository {
	return &RequestRepository{client: client}
}

// GeoHit is a discovery result before the creator join.
type GeoHit struct {
	Request  *domain.Request
	Distance float64
}

// Create writes the hash, its TTL and every index in one MULTI/EXEC.
func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	key := requestKey(req.ID)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, encodeRequest(req))
	pipe.PExpireAt(ctx, key, req.ExpiresAt.Add(reapGrace))
	pipe.GeoAdd(ctx, openGeoKey, &redis.GeoLocation{
		Name:      req.ID,
		Longitude: req.Location.Lng,
		Latitude:  req.Location.Lat,
	})
	pipe.ZAdd(ctx, expiryKey, redis.Z{Score: float64(req.ExpiresAt.UnixMilli()), Member: req.ID})
	pipe.ZAdd(ctx, createdIndexKey(req.CreatedBy), redis.Z{Score: float64(req.CreatedAt.UnixMilli()), Member: req.ID})

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Dependency("create request", err)
	}
	return nil
}

// Get loads a live request. Missing and expired requests both yield ErrNotFound.
func (r *RequestRepository) Get(ctx context.Context, id string, now time.Time) (*domain.Request, error) {
	fields, err := r.client.HGetAll(ctx, requestKey(id)).Result()
	if err != nil {
		return nil, domain.Dependency("get request", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}

	req, err := decodeRequest(fields)
	if err != nil {
		return nil, err
	}
	if req.Expired(now) {
		return nil, domain.ErrNotFound
	}
	return req, nil
}

// Claim runs the claim transition atomically and returns the fresh request.
func (r *RequestRepository) Claim(ctx context.Context, id, helperID string, now time.Time) (domain.ClaimOutcome, *domain.Request, error) {
	keys := []string{requestKey(id), claimedIndexKey(helperID)}
	status, req, err := r.runTransition(ctx, claimScript, keys, helperID, now.UnixMilli(), id)
	if err != nil {
		return "", nil, err
	}

	switch status {
	case "claimed":
		r.publish(ctx, req)
		return domain.ClaimApplied, req, nil
	case "unchanged":
		return domain.ClaimUnchanged, req, nil
	}
	return "", nil, statusError(status)
}

// Confirm runs the confirm transition atomically. ConfirmClosed is returned to
// exactly one caller per request.
func (r *RequestRepository) Confirm(ctx context.Context, id, callerID string, now time.Time) (domain.ConfirmOutcome, *domain.Request, error) {
	keys := []string{requestKey(id), openGeoKey}
	status, req, err := r.runTransition(ctx, confirmScript, keys, callerID, now.UnixMilli(), id)
	if err != nil {
		return "", nil, err
	}

	switch status {
	case "closed":
		r.publish(ctx, req)
		return domain.ConfirmClosed, req, nil
	case "confirmed":
		r.publish(ctx, req)
		return domain.ConfirmRecorded, req, nil
	case "unchanged":
		return domain.ConfirmUnchanged, req, nil
	}
	return "", nil, statusError(status)
}

// Nearby returns open, unexpired requests within q.RadiusMeters, nearest first.
func (r *RequestRepository) Nearby(ctx context.Context, q domain.NearbyQuery, now time.Time) ([]GeoHit, error) {
	locs, err := r.client.GeoRadius(ctx, openGeoKey, q.Center.Lng, q.Center.Lat, &redis.GeoRadiusQuery{
		Radius:   q.RadiusMeters,
		Unit:     "m",
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, domain.Dependency("geo radius", err)
	}
	if len(locs) == 0 {
		return []GeoHit{}, nil
	}

	ids := make([]string, len(locs))
	for i, loc := range locs {
		ids[i] = loc.Name
	}
	reqs, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]GeoHit, 0, len(locs))
	var stale []interface{}
	for i, loc := range locs {
		req := reqs[i]
		if req == nil || req.IsCompleted {
			stale = append(stale, loc.Name)
			continue
		}
		if req.Expired(now) {
			continue
		}
		hits = append(hits, GeoHit{Request: req, Distance: loc.Dist})
	}

	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, openGeoKey, stale...).Err(); err != nil {
			return nil, domain.Dependency("prune geo index", err)
		}
	}
	return hits, nil
}

// ListCreatedBy returns live requests created by userID, newest first.
func (r *RequestRepository) ListCreatedBy(ctx context.Context, userID string, now time.Time) ([]*domain.Request, error) {
	return r.listIndex(ctx, createdIndexKey(userID), now)
}

// ListClaimedBy returns live requests claimed by userID, newest first.
func (r *RequestRepository) ListClaimedBy(ctx context.Context, userID string, now time.Time) ([]*domain.Request, error) {
	return r.listIndex(ctx, claimedIndexKey(userID), now)
}

// Expired returns up to limit request ids whose deadline is at or before now.
func (r *RequestRepository) Expired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, domain.Dependency("scan expiry index", err)
	}
	return ids, nil
}

// Delete hard-deletes a request and removes it from every index.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	key := requestKey(id)

	owners, err := r.client.HMGet(ctx, key, "created_by", "completed_by").Result()
	if err != nil {
		return domain.Dependency("load request owners", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, openGeoKey, id)
	pipe.ZRem(ctx, expiryKey, id)
	if creator, _ := owners[0].(string); creator != "" {
		pipe.ZRem(ctx, createdIndexKey(creator), id)
	}
	if helper, _ := owners[1].(string); helper != "" {
		pipe.ZRem(ctx, claimedIndexKey(helper), id)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Dependency("delete request", err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription for updates of one request.
// The caller must Close it.
func (r *RequestRepository) Subscribe(ctx context.Context, id string) *redis.PubSub {
	return r.client.Subscribe(ctx, eventChannel(id))
}

// Ping reports whether Redis is reachable.
func (r *RequestRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RequestRepository) runTransition(ctx context.Context, script *redis.Script, keys []string, caller string, nowMs int64, id string) (string, *domain.Request, error) {
	res, err := script.Run(ctx, r.client, keys, caller, nowMs, id).Slice()
	if err != nil {
		return "", nil, domain.Dependency("run transition", err)
	}
	if len(res) == 0 {
		return "", nil, domain.Dependency("run transition", errors.New("empty script reply"))
	}

	status, _ := res[0].(string)
	if len(res) < 2 {
		return status, nil, nil
	}

	raw, ok := res[1].([]interface{})
	if !ok {
		return "", nil, domain.Dependency("run transition", fmt.Errorf("unexpected reply %T", res[1]))
	}
	req, err := decodeRequest(pairsToMap(raw))
	if err != nil {
		return "", nil, err
	}
	return status, req, nil
}

func (r *RequestRepository) listIndex(ctx context.Context, indexKey string, now time.Time) ([]*domain.Request, error) {
	ids, err := r.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, domain.Dependency("list index", err)
	}
	if len(ids) == 0 {
		return []*domain.Request{}, nil
	}

	reqs, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Request, 0, len(reqs))
	var stale []interface{}
	for i, req := range reqs {
		if req == nil {
			stale = append(stale, ids[i])
			continue
		}
		if req.Expired(now) {
			continue
		}
		out = append(out, req)
	}

	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, domain.Dependency("prune user index", err)
		}
	}
	return out, nil
}

// loadMany fetches hashes in one pipeline. Missing hashes come back as nil.
func (r *RequestRepository) loadMany(ctx context.Context, ids []string) ([]*domain.Request, error) {
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, requestKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, domain.Dependency("load requests", err)
	}

	out := make([]*domain.Request, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		req, err := decodeRequest(fields)
		if err != nil {
			return nil, err
		}
		out[i] = req
	}
	return out, nil
}

// publish is best effort; subscribers re-read on reconnect.
func (r *RequestRepository) publish(ctx context.Context, req *domain.Request) {
	if req == nil {
		return
	}
	data, err := json.Marshal(req)
	if err != nil {
		return
	}
	r.client.Publish(ctx, eventChannel(req.ID), data)
}

func statusError(status string) error {
	switch status {
	case "not_found":
		return domain.ErrNotFound
	case "self_help":
		return domain.ErrSelfHelp
	case "already_claimed":
		return domain.ErrAlreadyClaimed
	case "forbidden":
		return domain.ErrForbidden
	case "no_helper":
		return domain.ErrNoHelperAssigned
	}
	return domain.Dependency("run transition", fmt.Errorf("unknown script status %q", status))
}

func pairsToMap(raw []interface{}) map[string]string {
	out := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		k, _ := raw[i].(string)
		v, _ := raw[i+1].(string)
		out[k] = v
	}
	return out
}

func requestKey(id string) string {
	return fmt.Sprintf("%s%s", requestKeyPrefix, id)
}

func createdIndexKey(userID string) string {
	return fmt.Sprintf("%s%s:created", userKeyPrefix, userID)
}

func claimedIndexKey(userID string) string {
	return fmt.Sprintf("%s%s:claimed", userKeyPrefix, userID)
}

func eventChannel(id string) string {
	return fmt.Sprintf("%s%s", eventChannelPrefix, id)
}
