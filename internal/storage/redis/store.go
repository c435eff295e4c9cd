// Package redis stores migration history in Redis. Entries live in one hash
// keyed by migration name; finished entries are ordered by a sorted set.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/storage"
)

// DefaultPrefix namespaces the keys used by a Store.
const DefaultPrefix = "migrations"

// unlockScript deletes each named entry that is still locked by ARGV[1].
var unlockScript = goredis.NewScript(`
local released = 0
for i = 2, #ARGV do
  local raw = redis.call('HGET', KEYS[1], ARGV[i])
  if raw then
    local e = cjson.decode(raw)
    if e.status == 'locked' and e.owner == ARGV[1] then
      redis.call('HDEL', KEYS[1], ARGV[i])
      released = released + 1
    end
  end
end
return released
`) //nolint:gochecknoglobals // compiled script

// record is the JSON value stored per migration.
type record struct {
	Status string    `json:"status"`
	Date   time.Time `json:"date"`
	Error  string    `json:"error,omitempty"`
	Owner  string    `json:"owner,omitempty"`
}

// Store implements storage.Storage on Redis.
type Store struct {
	client      goredis.UniversalClient
	entriesKey  string
	orderKey    string
	owner       string
	closeClient bool
	log         logrus.FieldLogger
}

var _ storage.Storage = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.entriesKey = prefix + ":entries"
		s.orderKey = prefix + ":order"
	}
}

// WithLogger sets the logger for backend diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// New creates a Store on an existing client and pings the server.
func New(ctx context.Context, client goredis.UniversalClient, opts ...Option) (*Store, error) {
	s := &Store{
		client: client,
		owner:  uuid.NewString(),
		log:    logrus.StandardLogger(),
	}

	WithPrefix(DefaultPrefix)(s)

	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.WithFields(logrus.Fields{"storage": "redis", "key": s.entriesKey})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, migerr.StorageInit(fmt.Errorf("pinging redis: %w", err))
	}

	return s, nil
}

// Open parses a redis:// URL and creates a Store that closes the client on End.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	redisOpts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, migerr.StorageInit(fmt.Errorf("parsing redis URL: %w", err))
	}

	client := goredis.NewClient(redisOpts)

	s, err := New(ctx, client, opts...)
	if err != nil {
		_ = client.Close()

		return nil, err
	}

	s.closeClient = true

	return s, nil
}

// Lock implements storage.Storage. HSETNX gives each migration to exactly
// one caller.
func (s *Store) Lock(ctx context.Context, migrations []migration.Migration) ([]migration.Migration, error) {
	value, err := json.Marshal(record{Status: string(migration.StatusLocked), Date: time.Now().UTC(), Owner: s.owner})
	if err != nil {
		return nil, fmt.Errorf("encoding lock entry: %w", err)
	}

	cmds := make([]*goredis.BoolCmd, len(migrations))

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, m := range migrations {
			cmds[i] = pipe.HSetNX(ctx, s.entriesKey, m.Name, value)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("locking migrations: %w", err)
	}

	locked := make([]migration.Migration, 0, len(migrations))

	for i, cmd := range cmds {
		if cmd.Val() {
			locked = append(locked, migrations[i])
		}
	}

	s.log.WithField("locked", len(locked)).Debug("claimed migrations")

	return locked, nil
}

// Unlock implements storage.Storage.
func (s *Store) Unlock(ctx context.Context, migrations []migration.Migration) error {
	if len(migrations) == 0 {
		return nil
	}

	args := make([]any, 0, len(migrations)+1)
	args = append(args, s.owner)

	for _, m := range migrations {
		args = append(args, m.Name)
	}

	released, err := unlockScript.Run(ctx, s.client, []string{s.entriesKey}, args...).Int()
	if err != nil {
		return fmt.Errorf("unlocking migrations: %w", err)
	}

	s.log.WithField("released", released).Debug("released migrations")

	return nil
}

// Remove implements storage.Storage.
func (s *Store) Remove(ctx context.Context, m migration.Migration) error {
	var deleted *goredis.IntCmd

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		deleted = pipe.HDel(ctx, s.entriesKey, m.Name)
		pipe.ZRem(ctx, s.orderKey, m.Name)

		return nil
	})
	if err != nil {
		return fmt.Errorf("removing migration %s: %w", m.Name, err)
	}

	if deleted.Val() == 0 {
		return fmt.Errorf("migration %s: %w", m.Name, storage.ErrEntryNotFound)
	}

	return nil
}

// History implements storage.Storage.
func (s *Store) History(ctx context.Context) iter.Seq2[migration.HistoryEntry, error] {
	return func(yield func(migration.HistoryEntry, error) bool) {
		names, err := s.client.ZRange(ctx, s.orderKey, 0, -1).Result()
		if err != nil {
			yield(migration.HistoryEntry{}, fmt.Errorf("reading history order: %w", err))
			return
		}

		if len(names) == 0 {
			return
		}

		values, err := s.client.HMGet(ctx, s.entriesKey, names...).Result()
		if err != nil {
			yield(migration.HistoryEntry{}, fmt.Errorf("reading history entries: %w", err))
			return
		}

		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue // removed between the two reads
			}

			entry, err := decodeEntry(names[i], raw)
			if err != nil {
				yield(migration.HistoryEntry{}, err)
				return
			}

			if entry.Status == migration.StatusLocked {
				continue
			}

			if !yield(entry, nil) {
				return
			}
		}
	}
}

func decodeEntry(name, raw string) (migration.HistoryEntry, error) {
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return migration.HistoryEntry{}, fmt.Errorf("decoding history entry %s: %w", name, err)
	}

	return migration.HistoryEntry{
		Name:   name,
		Status: migration.Status(r.Status),
		Date:   r.Date,
		Error:  r.Error,
	}, nil
}

// OnSuccess implements storage.Storage.
func (s *Store) OnSuccess(ctx context.Context, o migration.Outcome) error {
	return s.finish(ctx, o.Name, record{Status: string(migration.StatusDone)})
}

// OnError implements storage.Storage.
func (s *Store) OnError(ctx context.Context, o migration.Outcome, err error) error {
	return s.finish(ctx, o.Name, record{Status: string(migration.StatusFailed), Error: migerr.Serialize(err)})
}

func (s *Store) finish(ctx context.Context, name string, r record) error {
	r.Date = time.Now().UTC()

	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding history entry %s: %w", name, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.entriesKey, name, value)
		pipe.ZAdd(ctx, s.orderKey, goredis.Z{Score: float64(r.Date.UnixMicro()), Member: name})

		return nil
	})
	if err != nil {
		return fmt.Errorf("recording migration %s as %s: %w", name, r.Status, err)
	}

	return nil
}

// End implements storage.Storage.
func (s *Store) End(_ context.Context) error {
	if !s.closeClient {
		return nil
	}

	if err := s.client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return fmt.Errorf("closing redis client: %w", err)
	}

	return nil
}
