package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskboard/domain"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage is the relational store for users and tasks.
type Storage struct {
	db *gorm.DB
}

type userRecord struct {
	ID           int64        `gorm:"primaryKey"`
	Username     string       `gorm:"size:150;not null;uniqueIndex"`
	PasswordHash string       `gorm:"size:255;not null"`
	CreatedAt    time.Time    `gorm:"not null"`
	Tasks        []taskRecord `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
}

func (userRecord) TableName() string { return "users" }

type taskRecord struct {
	ID        int64     `gorm:"primaryKey"`
	Content   string    `gorm:"size:300;not null"`
	Completed bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	OwnerID   int64     `gorm:"not null;index"`
}

func (taskRecord) TableName() string { return "tasks" }

// Open connects to the database for driver and migrates the schema.
func Open(driver, dsn string, logg *log.Logger) (*Storage, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(sqliteDSN(dsn))
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	cfg := &gorm.Config{TranslateError: true}
	if logg != nil {
		cfg.Logger = logger.New(logg, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	} else {
		cfg.Logger = logger.Discard
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&userRecord{}, &taskRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Storage{db: db}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Storage) InsertUser(ctx context.Context, u *domain.User) error {
	rec := userRecord{Username: u.Username, PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateUsername
		}
		return err
	}
	u.ID = rec.ID
	return nil
}

func (s *Storage) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var rec userRecord
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u := rec.toDomain()
	return &u, nil
}

func (s *Storage) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	var rec userRecord
	err := s.db.WithContext(ctx).Take(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u := rec.toDomain()
	return &u, nil
}

// ListTasks returns the owner's tasks in insertion order.
func (s *Storage) ListTasks(ctx context.Context, ownerID int64) ([]domain.Task, error) {
	var recs []taskRecord
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(recs))
	for _, r := range recs {
		tasks = append(tasks, r.toDomain())
	}
	return tasks, nil
}

func (s *Storage) InsertTask(ctx context.Context, t *domain.Task) error {
	rec := taskRecord{Content: t.Content, Completed: t.Completed, CreatedAt: t.CreatedAt, OwnerID: t.OwnerID}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	t.ID = rec.ID
	return nil
}

func (s *Storage) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	var rec taskRecord
	err := s.db.WithContext(ctx).Take(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := rec.toDomain()
	return &t, nil
}

// UpdateTask writes content and completed; id, owner and created_at never change.
func (s *Storage) UpdateTask(ctx context.Context, t domain.Task) error {
	res := s.db.WithContext(ctx).Model(&taskRecord{}).Where("id = ?", t.ID).Updates(map[string]any{
		"content":   t.Content,
		"completed": t.Completed,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Storage) DeleteTask(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&taskRecord{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r userRecord) toDomain() domain.User {
	return domain.User{ID: r.ID, Username: r.Username, PasswordHash: r.PasswordHash, CreatedAt: r.CreatedAt}
}

func (r taskRecord) toDomain() domain.Task {
	return domain.Task{ID: r.ID, Content: r.Content, Completed: r.Completed, CreatedAt: r.CreatedAt, OwnerID: r.OwnerID}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
