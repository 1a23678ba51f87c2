// Package eventlog persists the decision stream to SQLite so a trade can be
// reconstructed after the process is gone.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vela/internal/events"
)

type Store struct {
	db *gorm.DB
}

type eventModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	EventID   string         `gorm:"column:event_uuid;index"`
	Type      string         `gorm:"column:type;index"`
	Symbol    string         `gorm:"column:symbol;index"`
	Details   datatypes.JSON `gorm:"column:details"`
	CreatedAt int64          `gorm:"column:created_at;index"`
}

func (eventModel) TableName() string { return "event_log" }

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("eventlog: path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep connections low, one writer plus HTTP reads.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Append(ctx context.Context, ev events.Event) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("eventlog: store not initialized")
	}
	detailBytes, _ := json.Marshal(ev.Details)
	model := eventModel{
		EventID:   ev.ID,
		Type:      string(ev.Type),
		Symbol:    strings.ToUpper(strings.TrimSpace(ev.Symbol)),
		Details:   datatypes.JSON(detailBytes),
		CreatedAt: ev.At.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// Query filters persisted events, newest first. Zero values mean no filter.
type Query struct {
	Symbol string
	Type   string
	Since  time.Time
	Limit  int
}

func (s *Store) List(ctx context.Context, q Query) ([]events.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("eventlog: store not initialized")
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	query := s.db.WithContext(ctx).Model(&eventModel{})
	if sym := strings.ToUpper(strings.TrimSpace(q.Symbol)); sym != "" {
		query = query.Where("symbol = ?", sym)
	}
	if t := strings.TrimSpace(q.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if !q.Since.IsZero() {
		query = query.Where("created_at > ?", q.Since.UnixMilli())
	}
	var models []eventModel
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]events.Event, 0, len(models))
	for _, m := range models {
		ev := events.Event{
			ID:     m.EventID,
			Type:   events.Type(m.Type),
			Symbol: m.Symbol,
			At:     time.UnixMilli(m.CreatedAt),
		}
		if len(m.Details) > 0 {
			_ = json.Unmarshal(m.Details, &ev.Details)
		}
		out = append(out, ev)
	}
	return out, nil
}
