// Package sqlstore implements core.SessionStore on GORM (SQLite or MySQL).
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
	"github.com/hupe1980/travelmesh/session"
)

// Open connects to driver ("sqlite" or "mysql") and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connect %s: %w", driver, err)
	}
	if driver == "sqlite" && strings.Contains(dsn, ":memory:") {
		// each pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the session tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("sqlstore: auto-migrate: %w", err)
	}
	return nil
}

// Store is a durable core.SessionStore. Writes are serialized in-process so
// turn sequence numbers stay gapless.
type Store struct {
	db   *gorm.DB
	opts session.Options
	mu   sync.Mutex
}

var _ core.SessionStore = (*Store)(nil)

// New wraps an open database. Options mirror the in-memory store.
func New(db *gorm.DB, optFns ...func(o *session.Options)) *Store {
	opts := session.Options{Clock: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Store{db: db, opts: opts}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, core.ErrStorageUnavailable, err)
}

func notFound(op, id string) error {
	return fmt.Errorf("%s %s: %w", op, id, core.ErrSessionNotFound)
}

// CreateOrGet returns the live session of userID, replacing it when idle.
func (s *Store) CreateOrGet(ctx context.Context, userID string) (*core.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("create session: empty user id")
	}
	now := s.opts.Clock()

	s.mu.Lock()
	var (
		out     *core.Session
		evicted *core.Session
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		err := tx.Where("user_id = ?", userID).Order("created_at DESC").First(&row).Error
		switch {
		case err == nil:
			if s.opts.IdleTimeout > 0 && now.Sub(row.LastActive) > s.opts.IdleTimeout {
				sess, err := load(tx, row)
				if err != nil {
					return err
				}
				if err := deleteSession(tx, row.ID); err != nil {
					return err
				}
				evicted = sess
				break
			}
			if err := tx.Model(&sessionRow{}).Where("id = ?", row.ID).Update("last_active", now).Error; err != nil {
				return err
			}
			row.LastActive = now
			out, err = load(tx, row)
			return err
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		row = sessionRow{ID: util.NewID("sess"), UserID: userID, CreatedAt: now, LastActive: now}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		out = core.NewSession(row.ID, userID, now)
		return nil
	})
	s.mu.Unlock()
	if err != nil {
		return nil, unavailable("create session", err)
	}
	if evicted != nil && s.opts.OnEvict != nil {
		s.opts.OnEvict(ctx, evicted)
	}
	return out, nil
}

// Get loads the full session.
func (s *Store) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	var row sessionRow
	db := s.db.WithContext(ctx)
	if err := db.First(&row, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("get", sessionID)
		}
		return nil, unavailable("get session", err)
	}
	sess, err := load(db, row)
	if err != nil {
		return nil, unavailable("get session", err)
	}
	return sess, nil
}

func load(db *gorm.DB, row sessionRow) (*core.Session, error) {
	sess := core.NewSession(row.ID, row.UserID, row.CreatedAt)
	sess.LastActive = row.LastActive
	if row.AgentPath != "" {
		for _, k := range strings.Split(row.AgentPath, ",") {
			sess.ActiveAgentPath = append(sess.ActiveAgentPath, core.AgentKind(k))
		}
	}

	var turns []turnRow
	if err := db.Where("session_id = ?", row.ID).Order("seq ASC").Find(&turns).Error; err != nil {
		return nil, err
	}
	for _, tr := range turns {
		t := core.Turn{Role: core.Role(tr.Role), Content: tr.Content, Timestamp: time.Unix(0, tr.TsUnixNano).UTC()}
		if tr.Payload != "" {
			p, err := core.UnmarshalPayload([]byte(tr.Payload))
			if err != nil {
				return nil, fmt.Errorf("turn %d: %w", tr.Seq, err)
			}
			t.Payload = p
		}
		sess.Turns = append(sess.Turns, t)
	}

	var mem []memoryRow
	if err := db.Where("session_id = ?", row.ID).Find(&mem).Error; err != nil {
		return nil, err
	}
	for _, m := range mem {
		var v any
		if err := json.Unmarshal([]byte(m.Value), &v); err != nil {
			return nil, fmt.Errorf("memory %s: %w", m.Key, err)
		}
		sess.Memory[m.Key] = v
	}
	return sess, nil
}

// AppendTurn appends turn with the same ordering rules as the in-memory store.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn core.Turn) error {
	payload, err := core.MarshalPayload(turn.Payload)
	if err != nil {
		return fmt.Errorf("append turn to %s: %w", sessionID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		if err := tx.First(&row, "id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("append turn to", sessionID)
			}
			return unavailable("append turn", err)
		}
		var last turnRow
		seq := 0
		var history []core.Turn
		err := tx.Where("session_id = ?", sessionID).Order("seq DESC").First(&last).Error
		switch {
		case err == nil:
			seq = last.Seq
			history = []core.Turn{{Timestamp: time.Unix(0, last.TsUnixNano)}}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return unavailable("append turn", err)
		}
		ts, err := session.NextTimestamp(history, turn.Timestamp, s.opts.Clock())
		if err != nil {
			return fmt.Errorf("append turn to %s: %w", sessionID, err)
		}
		tr := turnRow{
			SessionID:  sessionID,
			Seq:        seq + 1,
			Role:       string(turn.Role),
			Content:    turn.Content,
			Payload:    string(payload),
			TsUnixNano: ts.UnixNano(),
		}
		if turn.Payload != nil {
			tr.PayloadType = string(turn.Payload.PayloadType())
		}
		if err := tx.Create(&tr).Error; err != nil {
			return unavailable("append turn", err)
		}
		if ts.After(row.LastActive) {
			if err := tx.Model(&sessionRow{}).Where("id = ?", sessionID).Update("last_active", ts).Error; err != nil {
				return unavailable("append turn", err)
			}
		}
		return nil
	})
}

// ReadMemory returns the value stored under key.
func (s *Store) ReadMemory(ctx context.Context, sessionID, key string) (any, bool, error) {
	if err := s.exists(ctx, sessionID, "read memory of"); err != nil {
		return nil, false, err
	}
	var m memoryRow
	err := s.db.WithContext(ctx).First(&m, "session_id = ? AND `key` = ?", sessionID, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("read memory", err)
	}
	var v any
	if err := json.Unmarshal([]byte(m.Value), &v); err != nil {
		return nil, false, fmt.Errorf("read memory %s: %w", key, err)
	}
	return v, true, nil
}

// WriteMemory upserts key; a nil value deletes it.
func (s *Store) WriteMemory(ctx context.Context, sessionID, key string, value any) error {
	if err := s.exists(ctx, sessionID, "write memory of"); err != nil {
		return err
	}
	db := s.db.WithContext(ctx)
	if value == nil {
		if err := db.Where("session_id = ? AND `key` = ?", sessionID, key).Delete(&memoryRow{}).Error; err != nil {
			return unavailable("write memory", err)
		}
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("write memory %s: %w", key, err)
	}
	row := memoryRow{SessionID: sessionID, Key: key, Value: string(data)}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return unavailable("write memory", err)
	}
	return nil
}

// Memory returns a snapshot of the session memory.
func (s *Store) Memory(ctx context.Context, sessionID string) (map[string]any, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Memory, nil
}

// SetAgentPath records the agent kinds that handled the latest turn.
func (s *Store) SetAgentPath(ctx context.Context, sessionID string, path []core.AgentKind) error {
	parts := make([]string, len(path))
	for i, k := range path {
		parts[i] = string(k)
	}
	res := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", sessionID).Update("agent_path", strings.Join(parts, ","))
	if res.Error != nil {
		return unavailable("set agent path", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("set agent path of", sessionID)
	}
	return nil
}

// EvictIfIdle removes the session when idle longer than threshold.
func (s *Store) EvictIfIdle(ctx context.Context, sessionID string, threshold time.Duration) (bool, error) {
	cutoff := s.opts.Clock().Add(-threshold)
	var rows []sessionRow
	if err := s.db.WithContext(ctx).Where("id = ? AND last_active < ?", sessionID, cutoff).Find(&rows).Error; err != nil {
		return false, unavailable("evict session", err)
	}
	ids, err := s.evict(ctx, rows)
	return len(ids) > 0, err
}

// EvictIdle removes every session idle longer than threshold.
func (s *Store) EvictIdle(ctx context.Context, threshold time.Duration) ([]string, error) {
	cutoff := s.opts.Clock().Add(-threshold)
	var rows []sessionRow
	if err := s.db.WithContext(ctx).Where("last_active < ?", cutoff).Order("id").Find(&rows).Error; err != nil {
		return nil, unavailable("evict sessions", err)
	}
	return s.evict(ctx, rows)
}

func (s *Store) evict(ctx context.Context, rows []sessionRow) ([]string, error) {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		var sess *core.Session
		s.mu.Lock()
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			if sess, err = load(tx, row); err != nil {
				return err
			}
			return deleteSession(tx, row.ID)
		})
		s.mu.Unlock()
		if err != nil {
			return ids, unavailable("evict session", err)
		}
		ids = append(ids, row.ID)
		if s.opts.OnEvict != nil {
			s.opts.OnEvict(ctx, sess)
		}
	}
	return ids, nil
}

func (s *Store) exists(ctx context.Context, sessionID, op string) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", sessionID).Count(&n).Error; err != nil {
		return unavailable(op, err)
	}
	if n == 0 {
		return notFound(op, sessionID)
	}
	return nil
}

func deleteSession(tx *gorm.DB, id string) error {
	if err := tx.Where("session_id = ?", id).Delete(&turnRow{}).Error; err != nil {
		return err
	}
	if err := tx.Where("session_id = ?", id).Delete(&memoryRow{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", id).Delete(&sessionRow{}).Error
}
