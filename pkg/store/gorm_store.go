package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"checkpoint/pkg/domain"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 52114907

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type GormStoreOptions struct {
	Driver   string
	LogLevel gormlogger.LogLevel
}

type GormStoreOption func(*GormStoreOptions)

// WithDriver selects the SQL dialect (postgres or sqlite).
func WithDriver(driver string) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Driver = driver
	}
}

// WithLogLevel overrides the gorm logger level.
func WithLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

// GormStore implements Store using GORM over Postgres or SQLite.
type GormStore struct {
	db     *gorm.DB
	driver string
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{Driver: DriverPostgres, LogLevel: gormlogger.Warn}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn required")
	}

	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverPostgres, "":
		opts.Driver = DriverPostgres
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.Driver == DriverSQLite {
		// One connection keeps in-memory databases shared and avoids SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s := &GormStore{db: db, driver: opts.Driver}
	if err := s.withMigrationLock(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ProfileModel{}, &StudentModel{}, &TokenModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle so sibling stores can share the pool.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) withMigrationLock(fn func(*gorm.DB) error) error {
	if s.driver != DriverPostgres {
		return fn(s.db)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(s.db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates an account.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "email", "first_name", "password_hash"}),
	}).Create(&model).Error
	if isDuplicate(err) {
		return fmt.Errorf("%w: account %s", ErrDuplicate, u.Email)
	}
	return err
}

// GetUserByEmail finds an account by its email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID finds an account by primary key.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetProfile loads the role profile of an account.
func (s *GormStore) GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UserProfile{}, false, nil
		}
		return domain.UserProfile{}, false, err
	}
	return domain.UserProfile{UserID: model.UserID, Role: domain.UserRole(model.Role)}, true, nil
}

// SaveProfile creates the profile or changes its role.
func (s *GormStore) SaveProfile(ctx context.Context, p domain.UserProfile) error {
	model := ProfileModel{UserID: p.UserID, Role: string(p.Role)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(&model).Error
}

// CreateStudent inserts a new record; the unique indexes reject duplicates.
func (s *GormStore) CreateStudent(ctx context.Context, st domain.Student) error {
	model, err := studentToModel(st)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: student %s", ErrDuplicate, st.StudentID)
		}
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

// UpdateStudent writes the mutable columns of an existing record.
func (s *GormStore) UpdateStudent(ctx context.Context, st domain.Student) error {
	res := s.db.WithContext(ctx).Model(&StudentModel{}).Where("id = ?", st.ID).Updates(map[string]any{
		"status":         string(st.Status),
		"check_out_time": st.CheckOutTime,
	})
	if res.Error != nil {
		return fmt.Errorf("update student: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: student %s", ErrNotFound, st.ID)
	}
	return nil
}

// GetStudent fetches a record by primary key.
func (s *GormStore) GetStudent(ctx context.Context, id string) (domain.Student, bool, error) {
	return s.getStudent(ctx, "id = ?", id)
}

// GetStudentByStudentID fetches a record by its external student id.
func (s *GormStore) GetStudentByStudentID(ctx context.Context, studentID string) (domain.Student, bool, error) {
	return s.getStudent(ctx, "student_id = ?", studentID)
}

// GetStudentByRecordID fetches a record by its record id.
func (s *GormStore) GetStudentByRecordID(ctx context.Context, recordID string) (domain.Student, bool, error) {
	return s.getStudent(ctx, "record_id = ?", recordID)
}

func (s *GormStore) getStudent(ctx context.Context, cond string, arg string) (domain.Student, bool, error) {
	var model StudentModel
	if err := s.db.WithContext(ctx).Where(cond, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Student{}, false, nil
		}
		return domain.Student{}, false, err
	}
	st, err := studentFromModel(model)
	if err != nil {
		return domain.Student{}, false, err
	}
	return st, true, nil
}

// ListStudents returns filtered records in check-in order with the filtered total.
func (s *GormStore) ListStudents(ctx context.Context, filter StudentFilter) ([]domain.Student, int64, error) {
	filter = filter.Normalize()
	if s.driver == DriverSQLite && filter.Search != "" {
		// SQLite LOWER and LIKE fold ASCII only; search in Go instead.
		return s.searchInMemory(ctx, filter)
	}
	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&StudentModel{})
		if filter.Status != "" {
			q = q.Where("status = ?", string(filter.Status))
		}
		if filter.Search != "" {
			p := likePattern(filter.Search)
			q = q.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(student_id) LIKE ? ESCAPE '\' OR LOWER(class_name) LIKE ? ESCAPE '\')`, p, p, p)
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	q := filtered().Order("check_in_time ASC").Order("id ASC")
	if filter.Page > 0 {
		q = q.Offset(filter.Offset()).Limit(filter.PageSize)
	}
	var models []StudentModel
	if err := q.Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}
	out := make([]domain.Student, 0, len(models))
	for _, m := range models {
		st, err := studentFromModel(m)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, st)
	}
	return out, total, nil
}

func (s *GormStore) searchInMemory(ctx context.Context, filter StudentFilter) ([]domain.Student, int64, error) {
	q := s.db.WithContext(ctx).Model(&StudentModel{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	var models []StudentModel
	if err := q.Order("check_in_time ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}
	matched := make([]domain.Student, 0, len(models))
	for _, m := range models {
		st, err := studentFromModel(m)
		if err != nil {
			return nil, 0, err
		}
		if filter.Matches(st) {
			matched = append(matched, st)
		}
	}
	return filter.Window(matched), int64(len(matched)), nil
}

// CountStudentsByStatus totals records per lifecycle status.
func (s *GormStore) CountStudentsByStatus(ctx context.Context) (domain.StatusCounts, error) {
	var rows []struct {
		Status string
		N      int64
	}
	if err := s.db.WithContext(ctx).Model(&StudentModel{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return domain.StatusCounts{}, fmt.Errorf("count by status: %w", err)
	}
	var counts domain.StatusCounts
	for _, row := range rows {
		counts.Total += row.N
		switch domain.StudentStatus(row.Status) {
		case domain.StatusCheckedIn:
			counts.CheckedIn += row.N
		case domain.StatusCheckedOut:
			counts.CheckedOut += row.N
		}
	}
	return counts, nil
}

// isDuplicate recognizes unique violations, translated or raw.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		FirstName:    u.FirstName,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		FirstName:    m.FirstName,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func studentToModel(st domain.Student) (StudentModel, error) {
	photos := st.DevicePhotos
	if photos == nil {
		photos = []string{}
	}
	raw, err := json.Marshal(photos)
	if err != nil {
		return StudentModel{}, fmt.Errorf("encode device photos: %w", err)
	}
	return StudentModel{
		ID:                st.ID,
		StudentID:         st.StudentID,
		RecordID:          st.RecordID,
		Name:              st.Name,
		ClassName:         st.ClassName,
		Photo:             st.Photo,
		DevicePhotos:      datatypes.JSON(raw),
		DeviceDescription: st.DeviceDescription,
		CheckInTime:       st.CheckInTime,
		CheckOutTime:      st.CheckOutTime,
		Status:            string(st.Status),
	}, nil
}

func studentFromModel(m StudentModel) (domain.Student, error) {
	photos := []string{}
	if len(m.DevicePhotos) > 0 {
		if err := json.Unmarshal(m.DevicePhotos, &photos); err != nil {
			return domain.Student{}, fmt.Errorf("decode device photos for %s: %w", m.ID, err)
		}
	}
	var checkOut *time.Time
	if m.CheckOutTime != nil {
		t := m.CheckOutTime.UTC()
		checkOut = &t
	}
	return domain.Student{
		ID:                m.ID,
		StudentID:         m.StudentID,
		RecordID:          m.RecordID,
		Name:              m.Name,
		ClassName:         m.ClassName,
		Photo:             m.Photo,
		DevicePhotos:      photos,
		DeviceDescription: m.DeviceDescription,
		CheckInTime:       m.CheckInTime.UTC(),
		CheckOutTime:      checkOut,
		Status:            domain.StudentStatus(m.Status),
	}, nil
}
