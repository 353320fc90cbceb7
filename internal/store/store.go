// Package store implements the session queries behind the leaderboard:
// filtered listing, top-N ranking, per-user aggregation and statistics.
//
// Every read hides usernames containing "test" in any casing. Sort columns
// and directions come only from the closed enums in params.go, never from
// caller strings.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/krellgit/claude-autonomy-tracker/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testUserPattern = "%test%"

// Store runs session queries against a GORM connection.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// visible hides test-marked usernames.
func visible(tx *gorm.DB) *gorm.DB {
	return tx.Where("LOWER(username) NOT LIKE ?", testUserPattern)
}

// byUser matches username case-insensitively.
func byUser(username string) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("LOWER(username) = ?", strings.ToLower(username))
	}
}

func (s *Store) sessions(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Session{}).Scopes(visible)
}

// CreateSession inserts sess and fills in its ID and CreatedAt.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.Metadata == nil {
		sess.Metadata = datatypes.JSONMap{}
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return wrap("create session", err)
	}
	return nil
}

// ListSessions returns one page of sessions. Ties on the sort column are
// broken by id in the same direction so paging is stable.
func (s *Store) ListSessions(ctx context.Context, p ListParams) ([]models.Session, error) {
	p = p.normalized()
	q := s.sessions(ctx)
	if p.Username != "" {
		q = q.Scopes(byUser(p.Username))
	}
	dir := p.Order.sql()
	out := []models.Session{}
	err := q.Order(p.Sort.column() + " " + dir + ", id " + dir).
		Limit(p.Limit).Offset(p.Offset).
		Find(&out).Error
	if err != nil {
		return nil, wrap("list sessions", err)
	}
	return out, nil
}

// Leaderboard returns the limit longest sessions. It is ListSessions sorted
// by duration descending, so its first K rows match any longer leaderboard.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]models.Session, error) {
	return s.ListSessions(ctx, ListParams{
		Limit: clampLimit(limit, DefaultLeaderboardLimit),
		Sort:  SortDuration,
		Order: Desc,
	})
}

// UserSessions returns a user's most recent sessions, newest first.
func (s *Store) UserSessions(ctx context.Context, username string, limit int) ([]models.Session, error) {
	out := []models.Session{}
	err := s.sessions(ctx).Scopes(byUser(username)).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(limit, DefaultUserSessions)).
		Find(&out).Error
	if err != nil {
		return nil, wrap("user sessions", err)
	}
	return out, nil
}

// LatestID returns the highest visible session id, or zero when there are none.
func (s *Store) LatestID(ctx context.Context) (uint, error) {
	var id uint
	if err := s.sessions(ctx).Select("COALESCE(MAX(id), 0)").Scan(&id).Error; err != nil {
		return 0, wrap("latest id", err)
	}
	return id, nil
}

// SessionsSince returns visible sessions with id greater than afterID, oldest
// first.
func (s *Store) SessionsSince(ctx context.Context, afterID uint, limit int) ([]models.Session, error) {
	out := []models.Session{}
	err := s.sessions(ctx).Where("id > ?", afterID).
		Order("id ASC").
		Limit(clampLimit(limit, DefaultListLimit)).
		Find(&out).Error
	if err != nil {
		return nil, wrap("sessions since", err)
	}
	return out, nil
}

// rankedSessions ranks each user's sessions by duration, longest first.
const rankedSessions = `SELECT id, username, task_description, autonomous_duration, action_count,
		session_start, session_end, created_at, metadata,
		ROW_NUMBER() OVER (PARTITION BY LOWER(username) ORDER BY autonomous_duration DESC, id ASC) AS rn
	FROM sessions
	WHERE LOWER(username) NOT LIKE ?`

// SessionsByUser returns up to five longest sessions per user, ordered by
// username then duration. limit caps the whole result and only applies when
// no username is given.
func (s *Store) SessionsByUser(ctx context.Context, username string, limit int) ([]models.Session, error) {
	username = strings.TrimSpace(username)
	args := []interface{}{testUserPattern}
	inner := rankedSessions
	if username != "" {
		inner += " AND LOWER(username) = ?"
		args = append(args, strings.ToLower(username))
	}

	query := `SELECT id, username, task_description, autonomous_duration, action_count,
		session_start, session_end, created_at, metadata
	FROM (` + inner + `) ranked
	WHERE rn <= ?
	ORDER BY LOWER(username) ASC, autonomous_duration DESC, id ASC`
	args = append(args, SessionsPerUser)
	if username == "" {
		query += " LIMIT ?"
		args = append(args, clampLimit(limit, DefaultGroupedLimit))
	}

	out := []models.Session{}
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&out).Error; err != nil {
		return nil, wrap("sessions by user", err)
	}
	return out, nil
}

type rankingRow struct {
	Username        string
	BestDuration    int64
	BestActionCount int64
	TotalDuration   int64
	SessionCount    int64
	LatestSession   aggTime
}

// UserRankings returns one row per case-insensitive username. The best
// session's action count comes from the row ranked first by the window in
// rankedSessions.
func (s *Store) UserRankings(ctx context.Context, p RankingParams) ([]models.UserRanking, error) {
	p = p.normalized()
	args := []interface{}{testUserPattern}
	where := ""
	if p.Username != "" {
		where = "WHERE LOWER(r.username) = ?"
		args = append(args, strings.ToLower(p.Username))
	}
	query := fmt.Sprintf(`SELECT MIN(r.username) AS username,
		MAX(r.autonomous_duration) AS best_duration,
		MAX(CASE WHEN r.rn = 1 THEN r.action_count ELSE 0 END) AS best_action_count,
		SUM(r.autonomous_duration) AS total_duration,
		COUNT(*) AS session_count,
		MAX(r.created_at) AS latest_session
	FROM (%s) r
	%s
	GROUP BY LOWER(r.username)
	ORDER BY %s %s, username ASC
	LIMIT ?`, rankedSessions, where, p.SortBy.column(), p.Order.sql())
	args = append(args, p.Limit)

	var rows []rankingRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, wrap("user rankings", err)
	}

	out := make([]models.UserRanking, len(rows))
	for i, r := range rows {
		out[i] = models.UserRanking{
			Username:        r.Username,
			BestDuration:    r.BestDuration,
			BestActionCount: r.BestActionCount,
			AvgDuration:     average(r.TotalDuration, r.SessionCount),
			TotalDuration:   r.TotalDuration,
			SessionCount:    r.SessionCount,
			LatestSession:   r.LatestSession.Time,
		}
	}
	return out, nil
}

type totalsRow struct {
	Sessions      int64
	Users         int64
	TotalDuration int64
	Longest       int64
	TotalActions  int64
	MaxActions    int64
}

const totalsSelect = `COUNT(*) AS sessions,
	COUNT(DISTINCT LOWER(username)) AS users,
	COALESCE(SUM(autonomous_duration), 0) AS total_duration,
	COALESCE(MAX(autonomous_duration), 0) AS longest,
	COALESCE(SUM(action_count), 0) AS total_actions,
	COALESCE(MAX(action_count), 0) AS max_actions`

// Stats returns site-wide aggregates and the top users by total duration.
func (s *Store) Stats(ctx context.Context) (*models.Stats, error) {
	var t totalsRow
	if err := s.sessions(ctx).Select(totalsSelect).Scan(&t).Error; err != nil {
		return nil, wrap("stats", err)
	}

	top := []models.TopUser{}
	err := s.sessions(ctx).
		Select("MIN(username) AS username, COUNT(*) AS session_count, SUM(autonomous_duration) AS total_duration").
		Group("LOWER(username)").
		Order("total_duration DESC, username ASC").
		Limit(TopUsersLimit).
		Scan(&top).Error
	if err != nil {
		return nil, wrap("stats", err)
	}

	return &models.Stats{
		TotalSessions:   t.Sessions,
		TotalUsers:      t.Users,
		TotalDuration:   t.TotalDuration,
		LongestDuration: t.Longest,
		AverageDuration: average(t.TotalDuration, t.Sessions),
		TotalActions:    t.TotalActions,
		MaxActions:      t.MaxActions,
		TopUsers:        top,
	}, nil
}

// UserStats returns aggregates for one case-insensitive username. Unknown
// users yield all zeros.
func (s *Store) UserStats(ctx context.Context, username string) (*models.UserStats, error) {
	var t totalsRow
	err := s.sessions(ctx).Scopes(byUser(strings.TrimSpace(username))).
		Select(totalsSelect).Scan(&t).Error
	if err != nil {
		return nil, wrap("user stats", err)
	}
	return &models.UserStats{
		SessionCount:    t.Sessions,
		LongestDuration: t.Longest,
		AverageDuration: average(t.TotalDuration, t.Sessions),
		TotalActions:    t.TotalActions,
		MaxActions:      t.MaxActions,
	}, nil
}

// DeleteByID removes the session with id and reports how many rows went.
func (s *Store) DeleteByID(ctx context.Context, id uint) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&models.Session{}, id)
	if res.Error != nil {
		return 0, wrap("delete by id", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteByUsername removes every session whose username matches exactly.
// Unlike reads, the match is case-sensitive.
func (s *Store) DeleteByUsername(ctx context.Context, username string) (int64, error) {
	cond := "username = ?"
	if s.db.Dialector.Name() == "mysql" {
		// MySQL's default collations compare case-insensitively.
		cond = "CAST(username AS BINARY) = CAST(? AS BINARY)"
	}
	res := s.db.WithContext(ctx).Where(cond, username).Delete(&models.Session{})
	if res.Error != nil {
		return 0, wrap("delete by username", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping checks store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrap("ping", err)
	}
	return wrap("ping", sqlDB.PingContext(ctx))
}

// average is the integer-truncated mean, zero when count is zero.
func average(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// aggTime scans MAX(created_at). SQLite hands aggregates back as text.
type aggTime struct {
	time.Time
}

var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

func (aggTime) GormDataType() string {
	return "time"
}

func (t *aggTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("store: scan time from %T", src)
}

func (t *aggTime) parse(s string) error {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range sqliteTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("store: parse time %q", s)
}
