// Package signallog keeps a rolling record of every evaluation cycle so a
// suppressed or skipped signal can be reconstructed after the fact.
package signallog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"kitebot/internal/strategy"
)

// Entry is one evaluation cycle outcome.
type Entry struct {
	ID        uint      `gorm:"primaryKey"`
	CycleTime time.Time `gorm:"index"`
	Symbol    string    `gorm:"size:64;index"`
	Action    string    `gorm:"size:16"`
	Side      string    `gorm:"size:8"`
	Basis     string    `gorm:"size:16"`
	Price     float64
	Reason    string    `gorm:"size:256"`
	CreatedAt time.Time
}

func (Entry) TableName() string { return "signal_log" }

type Log struct {
	db *gorm.DB
}

func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create signal log dir: %w", err)
	}
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open signal log: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate signal log: %w", err)
	}
	return &Log{db: db}, nil
}

// Record stores the outcome of one cycle.
func (l *Log) Record(cycleTime time.Time, ev strategy.Evaluation) error {
	entry := Entry{
		CycleTime: cycleTime,
		Symbol:    ev.Symbol,
		Action:    string(ev.Action),
		Side:      string(ev.Side),
		Basis:     string(ev.Basis),
		Price:     ev.Price,
		Reason:    ev.Reason,
	}
	return l.db.Create(&entry).Error
}

// Recent returns the latest n entries, newest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	var out []Entry
	err := l.db.Order("cycle_time DESC").Limit(n).Find(&out).Error
	return out, err
}

// Prune drops entries older than the retention window.
func (l *Log) Prune(retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return l.db.Where("cycle_time < ?", cutoff).Delete(&Entry{}).Error
}
