// Package audit persists scan records and enforces the single user-action
// transition that gates incident notifications.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/redactai/redactai/internal/redact"
	"github.com/redactai/redactai/internal/safety"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// Config controls the SQLite store.
type Config struct {
	Path          string
	LogLevel      string // silent, error, warn, info
	ExcerptLength int
	JournalMode   string
	Synchronous   string
	Now           func() time.Time
}

// Recorder owns ScanRecord creation and the pending -> terminal transition.
type Recorder struct {
	db         *gorm.DB
	excerptLen int
	now        func() time.Time
}

// Open creates the database file if needed and migrates the schema.
func Open(cfg Config) (*Recorder, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("audit path is empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir %s: %w", dir, err)
		}
	}

	var level gormlogger.LogLevel
	switch strings.ToLower(cfg.LogLevel) {
	case "silent":
		level = gormlogger.Silent
	case "error":
		level = gormlogger.Error
	case "info":
		level = gormlogger.Info
	default:
		level = gormlogger.Warn
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.New(log.New(os.Stderr, "\r\n", log.LstdFlags), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	// A single connection serialises writers, which makes the conditional
	// update in Transition the only arbiter of a record's action.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	journal := cfg.JournalMode
	if journal == "" {
		journal = "WAL"
	}
	sync := cfg.Synchronous
	if sync == "" {
		sync = "NORMAL"
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA journal_mode = %s;", journal),
		fmt.Sprintf("PRAGMA synchronous = %s;", sync),
		"PRAGMA temp_store = MEMORY;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if err := db.Exec(p).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}
	if err := db.AutoMigrate(&ScanRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate scan records: %w", err)
	}

	excerptLen := cfg.ExcerptLength
	if excerptLen <= 0 {
		excerptLen = DefaultExcerptLength
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	redact.Logf("audit: database ready path=%s journal_mode=%s", path, journal)
	return &Recorder{db: db, excerptLen: excerptLen, now: now}, nil
}

// Close releases the database.
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database is reachable.
func (r *Recorder) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Scan is the input to Record. Text is only used to build the masked excerpt.
type Scan struct {
	UserID           string
	Platform         string
	Text             string
	CorrelationToken string
	Assessment       *safety.RiskAssessment
}

// RecordResult reports the stored record and whether it already existed.
type RecordResult struct {
	Record       *ScanRecord
	Deduplicated bool
}

// Record stores one scan as pending. A repeated correlation token for the same
// user returns the existing record instead of inserting a second one.
func (r *Recorder) Record(ctx context.Context, s Scan) (RecordResult, error) {
	if strings.TrimSpace(s.UserID) == "" {
		return RecordResult{}, errors.New("audit: user id is required")
	}
	if s.Assessment == nil {
		return RecordResult{}, errors.New("audit: assessment is required")
	}
	token := strings.TrimSpace(s.CorrelationToken)
	if token != "" {
		existing, err := r.findByToken(ctx, s.UserID, token)
		if err == nil {
			return RecordResult{Record: existing, Deduplicated: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return RecordResult{}, err
		}
	}

	a := s.Assessment
	rec := &ScanRecord{
		ID:                  uuid.NewString(),
		UserID:              s.UserID,
		Platform:            s.Platform,
		Excerpt:             MaskExcerpt(s.Text, a.Detections, r.excerptLen),
		OverallScore:        a.OverallScore,
		PatternScore:        a.PatternScore,
		Decision:            a.Decision,
		Detections:          a.Detections,
		AICategory:          a.AICategory,
		AIConfidence:        a.AIConfidence,
		AIProbabilities:     a.AIProbabilities,
		Explanation:         a.Explanation,
		ClassifierAvailable: a.ClassifierAvailable,
		AssessedAt:          a.Timestamp,
		UserAction:          ActionPending,
		CreatedAt:           r.now().UTC(),
	}
	if token != "" {
		rec.CorrelationToken = &token
	}

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		if token != "" {
			// A concurrent retry won the unique index.
			if existing, findErr := r.findByToken(ctx, s.UserID, token); findErr == nil {
				return RecordResult{Record: existing, Deduplicated: true}, nil
			}
		}
		return RecordResult{}, &PersistenceError{Op: "record", Err: err}
	}
	return RecordResult{Record: rec}, nil
}

func (r *Recorder) findByToken(ctx context.Context, userID, token string) (*ScanRecord, error) {
	var rec ScanRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND correlation_token = ?", userID, token).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "lookup", Err: err}
	}
	return &rec, nil
}

// TransitionResult reports the record after a transition attempt.
type TransitionResult struct {
	Record *ScanRecord
	// Changed is true only for the call that moved the record out of pending.
	Changed bool
}

// Transition moves a pending record to action exactly once. Repeating the
// same action is a no-op with Changed=false; a different action returns
// ErrConflict.
func (r *Recorder) Transition(ctx context.Context, userID, id string, action UserAction) (TransitionResult, error) {
	if action != ActionProceeded && action != ActionCancelled {
		return TransitionResult{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	now := r.now().UTC()
	res := r.db.WithContext(ctx).Model(&ScanRecord{}).
		Where("id = ? AND user_id = ? AND user_action = ?", id, userID, ActionPending).
		Updates(map[string]interface{}{"user_action": action, "action_at": now})
	if res.Error != nil {
		return TransitionResult{}, &PersistenceError{Op: "transition", Err: res.Error}
	}

	rec, err := r.Get(ctx, userID, id)
	if err != nil {
		return TransitionResult{}, err
	}
	if res.RowsAffected == 1 {
		return TransitionResult{Record: rec, Changed: true}, nil
	}
	if rec.UserAction == action {
		return TransitionResult{Record: rec}, nil
	}
	return TransitionResult{Record: rec}, fmt.Errorf("%w: record %s is %s", ErrConflict, id, rec.UserAction)
}

// Get loads one record owned by userID.
func (r *Recorder) Get(ctx context.Context, userID, id string) (*ScanRecord, error) {
	var rec ScanRecord
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	return &rec, nil
}

// History lists a user's records newest first. limit is clamped to
// [1, MaxHistoryLimit]; zero or less means DefaultHistoryLimit.
func (r *Recorder) History(ctx context.Context, userID string, limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	var out []ScanRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, &PersistenceError{Op: "history", Err: err}
	}
	return out, nil
}
