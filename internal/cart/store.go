package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-promo/internal/tenant"
)

// ErrNotFound indicates the requested session could not be located.
var ErrNotFound = errors.New("cart session not found")

// ErrVersionConflict indicates a concurrent writer committed first.
var ErrVersionConflict = errors.New("cart session version conflict")

// saveScript commits the session body only when the stored version still
// matches what the writer read. A missing version key accepts only the
// initial write.
const saveScript = `local current = redis.call("get", KEYS[2])
if (current == false and ARGV[2] == "0") or current == ARGV[2] then
  redis.call("set", KEYS[1], ARGV[1], "px", ARGV[4])
  redis.call("set", KEYS[2], ARGV[3], "px", ARGV[4])
  return 1
end
return 0`

// Store persists sessions in Redis as JSON next to a bare version key used
// for compare-and-set. Expiry is owned by Redis TTLs, not by this component.
type Store struct {
	R   *redis.Client
	TTL time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{R: client, TTL: ttl}
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, tenantID string, id uuid.UUID) (Session, error) {
	data, err := s.R.Get(ctx, sessionKey(tenantID, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("load cart session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("decode cart session: %w", err)
	}
	return sess, nil
}

// Save commits the session at its current Version, expecting the stored
// version to be expectedVersion. expectedVersion zero creates the session.
func (s *Store) Save(ctx context.Context, sess Session, expectedVersion int64) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode cart session: %w", err)
	}
	keys := []string{sessionKey(sess.Tenant, sess.ID), versionKey(sess.Tenant, sess.ID)}
	argv := []any{
		string(data),
		fmt.Sprintf("%d", expectedVersion),
		fmt.Sprintf("%d", sess.Version),
		s.TTL.Milliseconds(),
	}
	ok, err := s.R.Eval(ctx, saveScript, keys, argv...).Int()
	if err != nil {
		return fmt.Errorf("save cart session: %w", err)
	}
	if ok != 1 {
		return ErrVersionConflict
	}
	return nil
}

func sessionKey(tenantID string, id uuid.UUID) string {
	return tenant.PrefixKey(tenantID, "cartsession:"+id.String())
}

func versionKey(tenantID string, id uuid.UUID) string {
	return tenant.PrefixKey(tenantID, "cartsession:"+id.String()+":ver")
}
