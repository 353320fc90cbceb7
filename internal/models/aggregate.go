package models

import "time"

// UserRanking is one row of the per-user leaderboard. Usernames are grouped
// case-insensitively; Username is the lexically smallest casing seen.
type UserRanking struct {
	Username        string    `json:"username"`
	BestDuration    int64     `json:"best_duration"`
	BestActionCount int64     `json:"best_action_count"`
	AvgDuration     int64     `json:"avg_duration"`
	TotalDuration   int64     `json:"total_duration"`
	SessionCount    int64     `json:"session_count"`
	LatestSession   time.Time `json:"latest_session"`
}

// TopUser is an entry in Stats.TopUsers.
type TopUser struct {
	Username      string `json:"username"`
	SessionCount  int64  `json:"sessionCount"`
	TotalDuration int64  `json:"totalDuration"`
}

// Stats holds site-wide aggregates. Every field is zero when no visible
// sessions exist.
type Stats struct {
	TotalSessions   int64     `json:"totalSessions"`
	TotalUsers      int64     `json:"totalUsers"`
	TotalDuration   int64     `json:"totalDuration"`
	LongestDuration int64     `json:"longestDuration"`
	AverageDuration int64     `json:"averageDuration"`
	TotalActions    int64     `json:"totalActions"`
	MaxActions      int64     `json:"maxActions"`
	TopUsers        []TopUser `json:"topUsers"`
}

// UserStats holds aggregates for a single user.
type UserStats struct {
	SessionCount    int64 `json:"sessionCount"`
	LongestDuration int64 `json:"longestDuration"`
	AverageDuration int64 `json:"averageDuration"`
	TotalActions    int64 `json:"totalActions"`
	MaxActions      int64 `json:"maxActions"`
}
