package sqlstore

import "time"

// sessionRow is the persisted session header.
type sessionRow struct {
	ID         string    `gorm:"primaryKey;size:64"`
	UserID     string    `gorm:"size:128;index"`
	AgentPath  string    `gorm:"size:255"`
	CreatedAt  time.Time `gorm:"precision:6"`
	LastActive time.Time `gorm:"precision:6;index"`
}

func (sessionRow) TableName() string { return "sessions" }

// turnRow stores one turn. Ordering uses Seq; TsUnixNano keeps full
// timestamp precision on backends with coarse datetime columns.
type turnRow struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"size:64;index:idx_turn_session_seq,priority:1"`
	Seq         int    `gorm:"index:idx_turn_session_seq,priority:2"`
	Role        string `gorm:"size:8"`
	Content     string `gorm:"type:text"`
	PayloadType string `gorm:"size:32"`
	Payload     string `gorm:"type:mediumtext"`
	TsUnixNano  int64
}

func (turnRow) TableName() string { return "turns" }

// memoryRow stores one JSON-encoded memory value.
type memoryRow struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"type:text"`
}

func (memoryRow) TableName() string { return "memory_entries" }

// AllModels returns the GORM models for migration.
func AllModels() []any {
	return []any{&sessionRow{}, &turnRow{}, &memoryRow{}}
}
