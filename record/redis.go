package record

import (
	"context"
	"strconv"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/leeforge/thumbforge/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisStore persists each record as a redis hash, with a set of known
// ids for sweep queries. Status transitions run as a Lua script that
// mutates only the transition fields, so the stored options document
// is written once at creation and never re-encoded; the conditional
// form is what the at-most-one-builder guarantee rests on across
// processes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

const defaultPrefix = "thumbforge"

// condUpdateScript applies a transition unless the current status is
// blocked. ARGV: status, status_changed_at, increment flag, blob flag,
// blob_ref, width, height, then the blocked statuses. Returns the
// affected count.
var condUpdateScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 0 end
for i = 8, #ARGV do
	if status == ARGV[i] then return 0 end
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'status_changed_at', ARGV[2])
if ARGV[3] == '1' then
	redis.call('HINCRBY', KEYS[1], 'error_count', 1)
end
if ARGV[4] == '1' then
	redis.call('HSET', KEYS[1], 'blob_ref', ARGV[5], 'width', ARGV[6], 'height', ARGV[7])
end
return 1
`)

// createScript inserts a record hash only when the key is absent.
// ARGV[1] is the id for the index set, the rest are field/value pairs.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id uuid.UUID) string {
	return s.prefix + ":record:" + id.String()
}

func (s *RedisStore) idsKey() string {
	return s.prefix + ":records"
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeStorage, "record get failed")
	}
	if len(fields) == 0 {
		return nil, errors.NewNotFound("record", id.String())
	}
	return recordFromFields(id, fields)
}

func (s *RedisStore) BulkGet(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Record, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*Record{}, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeStorage, "record bulk get failed")
	}
	out := make(map[uuid.UUID]*Record, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // missing id
		}
		r, err := recordFromFields(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out[ids[i]] = r
	}
	return out, nil
}

func (s *RedisStore) BulkCreateIfAbsent(ctx context.Context, recs []*Record) ([]*Record, error) {
	var created []*Record
	for _, r := range recs {
		fields, err := fieldsFromRecord(r)
		if err != nil {
			return created, err
		}
		args := make([]interface{}, 0, 1+len(fields))
		args = append(args, r.ID.String())
		args = append(args, fields...)
		n, err := createScript.Run(ctx, s.client, []string{s.key(r.ID), s.idsKey()}, args...).Int()
		if err != nil {
			return created, errors.WrapWithType(err, errors.ErrorTypeStorage, "record create failed")
		}
		if n == 1 {
			created = append(created, r)
		}
	}
	return created, nil
}

func (s *RedisStore) ConditionalUpdate(ctx context.Context, id uuid.UUID, notIn []Status, set Update) (int, error) {
	args := []interface{}{
		strconv.Itoa(int(set.Status)),
		set.StatusChangedAt.Format(time.RFC3339Nano),
		boolFlag(set.IncrementErrors),
		boolFlag(set.SetBlob),
		set.BlobRef,
		strconv.Itoa(set.Width),
		strconv.Itoa(set.Height),
	}
	for _, st := range notIn {
		args = append(args, strconv.Itoa(int(st)))
	}
	n, err := condUpdateScript.Run(ctx, s.client, []string{s.key(id)}, args...).Int()
	if err != nil {
		return 0, errors.WrapWithType(err, errors.ErrorTypeStorage, "conditional update failed")
	}
	return n, nil
}

func (s *RedisStore) Update(ctx context.Context, id uuid.UUID, set Update) error {
	n, err := s.ConditionalUpdate(ctx, id, nil, set)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewNotFound("record", id.String())
	}
	return nil
}

func (s *RedisStore) ListBuildable(ctx context.Context, f BuildableFilter) ([]*Record, error) {
	recs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []*Record
	for _, r := range recs {
		if buildable(r, f, now) {
			out = append(out, r)
		}
	}
	sortByCreated(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *RedisStore) Requeue(ctx context.Context, f RequeueFilter) (int, error) {
	recs, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	n := 0
	for _, r := range recs {
		if !requeueable(r, f, now) {
			continue
		}
		// Guard the reset with a conditional write so a record another
		// worker just transitioned is left alone.
		var notIn []Status
		if r.Status.IsError() {
			notIn = []Status{StatusQueued, StatusBuilding, StatusBuilt}
		} else {
			notIn = []Status{StatusQueued, StatusBuilt, StatusSourceError, StatusBuildError}
		}
		affected, err := s.ConditionalUpdate(ctx, r.ID, notIn, Update{
			Status:          StatusQueued,
			StatusChangedAt: now,
		})
		if err != nil {
			return n, err
		}
		n += affected
	}
	return n, nil
}

func (s *RedisStore) StatusCounts(ctx context.Context, staleAfter time.Duration) (Stats, error) {
	recs, err := s.all(ctx)
	if err != nil {
		return Stats{}, err
	}
	now := time.Now()
	stats := Stats{ErrorDist: map[int]int{}}
	for _, r := range recs {
		tally(&stats, r, staleAfter, now)
	}
	return stats, nil
}

func (s *RedisStore) all(ctx context.Context) ([]*Record, error) {
	members, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeStorage, "record listing failed")
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	byID, err := s.BulkGet(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	return out, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// fieldsFromRecord flattens a record into hash field/value pairs. The
// options document is serialized here, at creation, and only read back
// afterwards; transitions never rewrite it.
func fieldsFromRecord(r *Record) ([]interface{}, error) {
	opts, err := json.Marshal(r.Options)
	if err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeStorage, "record options encode failed")
	}
	return []interface{}{
		"storage_id", r.StorageID,
		"source_name", r.SourceName,
		"options", string(opts),
		"status", strconv.Itoa(int(r.Status)),
		"status_changed_at", r.StatusChangedAt.Format(time.RFC3339Nano),
		"error_count", strconv.Itoa(r.ErrorCount),
		"blob_ref", r.BlobRef,
		"width", strconv.Itoa(r.Width),
		"height", strconv.Itoa(r.Height),
		"created_at", r.CreatedAt.Format(time.RFC3339Nano),
	}, nil
}

func recordFromFields(id uuid.UUID, fields map[string]string) (*Record, error) {
	r := &Record{
		ID:         id,
		StorageID:  fields["storage_id"],
		SourceName: fields["source_name"],
		BlobRef:    fields["blob_ref"],
	}
	if raw := fields["options"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.Options); err != nil {
			return nil, errors.WrapWithType(err, errors.ErrorTypeStorage, "record options decode failed")
		}
	}
	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeStorage, "record status decode failed")
	}
	r.Status = Status(status)
	r.ErrorCount, _ = strconv.Atoi(fields["error_count"])
	r.Width, _ = strconv.Atoi(fields["width"])
	r.Height, _ = strconv.Atoi(fields["height"])
	if raw := fields["status_changed_at"]; raw != "" {
		r.StatusChangedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	if raw := fields["created_at"]; raw != "" {
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return r, nil
}
