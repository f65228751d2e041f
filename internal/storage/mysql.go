package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	logx "enel/pkg/logx"
)

type taskRun struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	RunID      string    `gorm:"type:varchar(64);not null"`
	Task       string    `gorm:"type:varchar(128);index:idx_task_runs_task;not null"`
	Started    time.Time `gorm:"not null"`
	Finished   time.Time `gorm:"not null"`
	DurationMS int64     `gorm:"not null"`
	OK         bool      `gorm:"not null"`
	Err        string    `gorm:"type:text"`
}

func (taskRun) TableName() string { return "task_runs" }

type taskResult struct {
	ID    int64     `gorm:"primaryKey;autoIncrement"`
	RunID string    `gorm:"type:varchar(64);not null"`
	Task  string    `gorm:"type:varchar(128);not null"`
	At    time.Time `gorm:"not null"`
	Data  string    `gorm:"type:mediumtext"`
}

func (taskResult) TableName() string { return "task_results" }

type dedupRow struct {
	Key   string `gorm:"primaryKey;type:varchar(255)"`
	Until int64  `gorm:"not null"`
}

func (dedupRow) TableName() string { return "dedup" }

type mysqlStore struct {
	db *gorm.DB
}

// gormWriter routes gorm's own logging through logx.
type gormWriter struct{ log logx.Logger }

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func openMySQL(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for mysql driver")
	}
	dsn = ensureParam(dsn, "parseTime", "true")
	if !strings.Contains(dsn, "charset=") {
		dsn = ensureParam(dsn, "charset", "utf8mb4")
	}

	glog := logger.New(gormWriter{log: log}, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: glog})
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	if err := db.AutoMigrate(&taskRun{}, &taskResult{}, &dedupRow{}); err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("mysql migrate: %w", err)
	}
	return &mysqlStore{db: db}, nil
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}

func (s *mysqlStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *mysqlStore) AppendRun(ctx context.Context, r RunRecord) error {
	row := taskRun{
		RunID: r.RunID, Task: r.Task, Started: r.Started, Finished: r.Finished,
		DurationMS: r.Duration.Milliseconds(), OK: r.OK, Err: r.Error,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *mysqlStore) AppendResult(ctx context.Context, r ResultRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	row := taskResult{RunID: r.RunID, Task: r.Task, At: r.At, Data: r.Data}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *mysqlStore) RecentRuns(ctx context.Context, task string, limit int) ([]RunRecord, error) {
	q := s.db.WithContext(ctx).Model(&taskRun{}).Order("id DESC").Limit(clampLimit(limit))
	if task != "" {
		q = q.Where("task = ?", task)
	}
	var rows []taskRun
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, RunRecord{
			RunID: row.RunID, Task: row.Task, Started: row.Started, Finished: row.Finished,
			Duration: time.Duration(row.DurationMS) * time.Millisecond, OK: row.OK, Error: row.Err,
		})
	}
	return out, nil
}

func (s *mysqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	row := dedupRow{Key: key, Until: until.UnixMilli()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"until"}),
	}).Create(&row).Error
}

func (s *mysqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var row dedupRow
	err := s.db.WithContext(ctx).Where("`key` = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(row.Until), true, nil
}
