package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"dozenflow-api/domain"
)

// SQL drivers understood by OpenSQL.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore keeps tasks in a relational database through gorm.
type SQLStore struct {
	db *gorm.DB
}

type taskRecord struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	Title       string  `gorm:"not null"`
	Description *string `gorm:"type:text"`
	Status      string  `gorm:"size:64;not null"`
	TaskOrder   int     `gorm:"column:task_order;not null;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (taskRecord) TableName() string { return "tasks" }

func (r taskRecord) toDomain() domain.Task {
	return domain.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Status:      domain.Status(r.Status),
		Order:       r.TaskOrder,
	}
}

func (r *taskRecord) apply(t domain.Task) {
	r.Title = t.Title
	r.Description = t.Description
	r.Status = string(t.Status)
	r.TaskOrder = t.Order
}

// OpenSQL connects to the database identified by driver and dsn. Slow queries
// and driver errors are reported through logger.
func OpenSQL(driver, dsn string, logger *log.Logger) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return &SQLStore{db: db}, nil
}

// Migrate creates or updates the tasks table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&taskRecord{})
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var recs []taskRecord
	if err := s.db.WithContext(ctx).Order("task_order ASC").Order("id ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(recs))
	for _, r := range recs {
		tasks = append(tasks, r.toDomain())
	}
	return tasks, nil
}

func (s *SQLStore) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	var rec taskRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return domain.Task{}, notFound(err)
	}
	return rec.toDomain(), nil
}

func (s *SQLStore) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	var rec taskRecord
	rec.apply(t)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.Task{}, err
	}
	return rec.toDomain(), nil
}

// ReplaceTask runs the read-modify-write inside a single transaction.
func (s *SQLStore) ReplaceTask(ctx context.Context, id int64, fn func(*domain.Task) error) (domain.Task, error) {
	var out domain.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec taskRecord
		if err := tx.First(&rec, id).Error; err != nil {
			return notFound(err)
		}
		t := rec.toDomain()
		if err := fn(&t); err != nil {
			return err
		}
		rec.apply(t)
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		out = rec.toDomain()
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

func (s *SQLStore) DeleteTask(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&taskRecord{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrTaskNotFound
	}
	return err
}
