package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/renewtech/livechat/backend/internal/types"
	"github.com/rs/zerolog"
)

// Redis key layout. Presence hashes get their expiry refreshed on every
// mutation; sessions and history outlive the owning connection and carry a
// longer expiry of their own.
const (
	keyVisitors    = "livechat:visitors"    // hash userID -> VisitorPresence JSON
	keyConnections = "livechat:conns"       // hash connectionID -> userID
	keyStaff       = "livechat:staff"       // hash staffID -> StaffPresence JSON
	keyAssignments = "livechat:assignments" // hash visitorID -> staffID
	keyLoadPrefix  = "livechat:load:"       // counter per staffID
	keyHistPrefix  = "livechat:history:"    // list of ChatMessage JSON per sessionID
	keySessPrefix  = "livechat:session:"    // ChatSession JSON per sessionID

	sessionTTL = 24 * time.Hour
)

// acquireSlotScript atomically increments a staff load counter only while
// it is below capacity. Returns 1 when the slot was taken, 0 when full.
const acquireSlotScript = `
	local current = tonumber(redis.call("GET", KEYS[1]) or "0")
	local capacity = tonumber(ARGV[1])
	if current >= capacity then
		return 0
	end
	redis.call("INCR", KEYS[1])
	redis.call("EXPIRE", KEYS[1], ARGV[2])
	return 1
`

// releaseSlotScript decrements a staff load counter with a floor at zero.
const releaseSlotScript = `
	local current = tonumber(redis.call("GET", KEYS[1]) or "0")
	if current <= 0 then
		redis.call("SET", KEYS[1], 0, "EX", ARGV[1])
		return 0
	end
	redis.call("EXPIRE", KEYS[1], ARGV[1])
	return redis.call("DECR", KEYS[1])
`

// RedisStore implements Store on a shared Redis instance so that multiple
// hub replicas observe the same presence state.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	opTime time.Duration
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(addr, password string, db int, ttl, opTimeout time.Duration, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection test failed: %w", err)
	}

	logger.Info().Str("addr", addr).Int("db", db).Msg("presence store connected")

	return &RedisStore{
		rdb:    rdb,
		ttl:    ttl,
		opTime: opTimeout,
		logger: logger,
	}, nil
}

// Close closes the underlying Redis connection
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// withTimeout bounds a store call; no operation may block indefinitely
func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTime)
}

func (s *RedisStore) UpsertVisitor(ctx context.Context, v types.VisitorPresence) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal visitor %s: %w", v.UserID, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keyVisitors, v.UserID, data)
	pipe.HSet(ctx, keyConnections, v.ConnectionID, v.UserID)
	pipe.Expire(ctx, keyVisitors, s.ttl)
	pipe.Expire(ctx, keyConnections, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert visitor %s: %w", v.UserID, err)
	}
	return nil
}

func (s *RedisStore) GetVisitor(ctx context.Context, userID string) (types.VisitorPresence, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.rdb.HGet(ctx, keyVisitors, userID).Result()
	if err != nil {
		return types.VisitorPresence{}, s.readMiss("get visitor", err)
	}

	var v types.VisitorPresence
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return types.VisitorPresence{}, fmt.Errorf("unmarshal visitor %s: %w", userID, err)
	}
	return v, nil
}

func (s *RedisStore) GetVisitorByConnection(ctx context.Context, connectionID string) (types.VisitorPresence, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	userID, err := s.rdb.HGet(ctx, keyConnections, connectionID).Result()
	if err != nil {
		return types.VisitorPresence{}, s.readMiss("get connection", err)
	}
	return s.GetVisitor(ctx, userID)
}

func (s *RedisStore) RemoveVisitor(ctx context.Context, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// Drop the reverse lookup first so a half-applied removal cannot
	// resolve a connection to a deleted visitor.
	v, err := s.GetVisitor(ctx, userID)
	if err == nil && v.ConnectionID != "" {
		if err := s.rdb.HDel(ctx, keyConnections, v.ConnectionID).Err(); err != nil {
			return fmt.Errorf("remove connection %s: %w", v.ConnectionID, err)
		}
	}

	if err := s.rdb.HDel(ctx, keyVisitors, userID).Err(); err != nil {
		return fmt.Errorf("remove visitor %s: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) ListVisitors(ctx context.Context) ([]types.VisitorPresence, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.rdb.HGetAll(ctx, keyVisitors).Result()
	if err != nil {
		s.logger.Warn().Err(err).Msg("list visitors failed, degrading to empty")
		return nil, nil
	}

	visitors := make([]types.VisitorPresence, 0, len(result))
	for id, data := range result {
		var v types.VisitorPresence
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			s.logger.Warn().Err(err).Str("user_id", id).Msg("skipping corrupt visitor record")
			continue
		}
		visitors = append(visitors, v)
	}
	return visitors, nil
}

func (s *RedisStore) UpsertStaff(ctx context.Context, st types.StaffPresence) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal staff %s: %w", st.StaffID, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keyStaff, st.StaffID, data)
	pipe.Expire(ctx, keyStaff, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert staff %s: %w", st.StaffID, err)
	}
	return nil
}

func (s *RedisStore) GetStaff(ctx context.Context, staffID string) (types.StaffPresence, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.rdb.HGet(ctx, keyStaff, staffID).Result()
	if err != nil {
		return types.StaffPresence{}, s.readMiss("get staff", err)
	}

	var st types.StaffPresence
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return types.StaffPresence{}, fmt.Errorf("unmarshal staff %s: %w", staffID, err)
	}
	return st, nil
}

func (s *RedisStore) RemoveStaff(ctx context.Context, staffID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.rdb.HDel(ctx, keyStaff, staffID).Err(); err != nil {
		return fmt.Errorf("remove staff %s: %w", staffID, err)
	}
	return nil
}

func (s *RedisStore) ListStaff(ctx context.Context) ([]types.StaffPresence, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.rdb.HGetAll(ctx, keyStaff).Result()
	if err != nil {
		s.logger.Warn().Err(err).Msg("list staff failed, degrading to empty")
		return nil, nil
	}

	staff := make([]types.StaffPresence, 0, len(result))
	for id, data := range result {
		var st types.StaffPresence
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			s.logger.Warn().Err(err).Str("staff_id", id).Msg("skipping corrupt staff record")
			continue
		}
		staff = append(staff, st)
	}
	return staff, nil
}

func (s *RedisStore) ListAvailableStaff(ctx context.Context) ([]types.StaffPresence, error) {
	all, err := s.ListStaff(ctx)
	if err != nil {
		return nil, err
	}

	available := make([]types.StaffPresence, 0, len(all))
	for _, st := range all {
		if st.Status == types.StaffOnline {
			available = append(available, st)
		}
	}
	return available, nil
}

func (s *RedisStore) SetAssignment(ctx context.Context, visitorID, staffID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keyAssignments, visitorID, staffID)
	pipe.Expire(ctx, keyAssignments, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set assignment %s -> %s: %w", visitorID, staffID, err)
	}
	return nil
}

func (s *RedisStore) GetAssignment(ctx context.Context, visitorID string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	staffID, err := s.rdb.HGet(ctx, keyAssignments, visitorID).Result()
	if err != nil {
		return "", s.readMiss("get assignment", err)
	}
	return staffID, nil
}

func (s *RedisStore) RemoveAssignment(ctx context.Context, visitorID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.rdb.HDel(ctx, keyAssignments, visitorID).Err(); err != nil {
		return fmt.Errorf("remove assignment %s: %w", visitorID, err)
	}
	return nil
}

func (s *RedisStore) VisitorsAssignedTo(ctx context.Context, staffID string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.rdb.HGetAll(ctx, keyAssignments).Result()
	if err != nil {
		s.logger.Warn().Err(err).Msg("list assignments failed, degrading to empty")
		return nil, nil
	}

	var visitors []string
	for visitorID, assigned := range result {
		if assigned == staffID {
			visitors = append(visitors, visitorID)
		}
	}
	return visitors, nil
}

func (s *RedisStore) GetLoad(ctx context.Context, staffID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	val, err := s.rdb.Get(ctx, keyLoadPrefix+staffID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("staff_id", staffID).Msg("get load failed, degrading to zero")
		return 0, nil
	}

	load, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt load counter for %s: %w", staffID, err)
	}
	return load, nil
}

func (s *RedisStore) SetLoad(ctx context.Context, staffID string, load int) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if load < 0 {
		load = 0
	}
	if err := s.rdb.Set(ctx, keyLoadPrefix+staffID, load, s.ttl).Err(); err != nil {
		return fmt.Errorf("set load %s: %w", staffID, err)
	}
	return nil
}

func (s *RedisStore) AcquireSlot(ctx context.Context, staffID string, capacity int) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.rdb.Eval(ctx, acquireSlotScript,
		[]string{keyLoadPrefix + staffID}, capacity, int(s.ttl.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("acquire slot %s: %w", staffID, err)
	}
	return result == 1, nil
}

func (s *RedisStore) ReleaseSlot(ctx context.Context, staffID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.rdb.Eval(ctx, releaseSlotScript,
		[]string{keyLoadPrefix + staffID}, int(s.ttl.Seconds())).Err(); err != nil {
		return fmt.Errorf("release slot %s: %w", staffID, err)
	}
	return nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, msg types.ChatMessage) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.MessageID, err)
	}

	key := keyHistPrefix + msg.SessionID
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -int64(historyCap), -1)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append message to session %s: %w", msg.SessionID, err)
	}
	return nil
}

// historyCap bounds the cached tail of a transcript; the full transcript
// lives in the archive
const historyCap = 100

func (s *RedisStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]types.ChatMessage, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 || limit > historyCap {
		limit = historyCap
	}

	items, err := s.rdb.LRange(ctx, keyHistPrefix+sessionID, -int64(limit), -1).Result()
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("read history failed, degrading to empty")
		return nil, nil
	}

	messages := make([]types.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg types.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("skipping corrupt message record")
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, sess types.ChatSession) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.SessionID, err)
	}

	if err := s.rdb.Set(ctx, keySessPrefix+sess.SessionID, data, sessionTTL).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", sess.SessionID, err)
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (types.ChatSession, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.rdb.Get(ctx, keySessPrefix+sessionID).Result()
	if err != nil {
		return types.ChatSession{}, s.readMiss("get session", err)
	}

	var sess types.ChatSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return types.ChatSession{}, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return sess, nil
}

// readMiss maps any read failure to ErrNotFound. A missing key and an
// unreachable backend look the same to callers; the hub degrades to
// "no staff available" instead of crashing.
func (s *RedisStore) readMiss(op string, err error) error {
	if err != redis.Nil {
		s.logger.Warn().Err(err).Str("op", op).Msg("presence read failed, degrading to not found")
	}
	return ErrNotFound
}
