package store

import "strings"

// Limits applied when callers pass zero or out-of-range values.
const (
	DefaultListLimit        = 50
	MaxListLimit            = 500
	DefaultLeaderboardLimit = 10
	DefaultRankingLimit     = 50
	DefaultGroupedLimit     = 50
	DefaultUserSessions     = 50
	TopUsersLimit           = 10
	SessionsPerUser         = 5
)

// SortField selects the column ListSessions orders by.
type SortField int

const (
	SortCreatedAt SortField = iota
	SortDuration
	SortActionCount
)

// ParseSortField maps a caller-supplied name to a SortField, falling back to
// SortCreatedAt for anything unrecognised.
func ParseSortField(s string) SortField {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "duration", "autonomous_duration":
		return SortDuration
	case "action_count", "actions":
		return SortActionCount
	default:
		return SortCreatedAt
	}
}

func (f SortField) String() string {
	switch f {
	case SortDuration:
		return "duration"
	case SortActionCount:
		return "action_count"
	default:
		return "created_at"
	}
}

func (f SortField) column() string {
	switch f {
	case SortDuration:
		return "autonomous_duration"
	case SortActionCount:
		return "action_count"
	default:
		return "created_at"
	}
}

// RankingSort selects the aggregate UserRankings orders by.
type RankingSort int

const (
	RankByDuration RankingSort = iota
	RankByTotalTime
	RankBySessions
	RankByRecent
)

// ParseRankingSort maps a caller-supplied name to a RankingSort, falling
// back to RankByDuration.
func ParseRankingSort(s string) RankingSort {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "total_time", "total":
		return RankByTotalTime
	case "sessions":
		return RankBySessions
	case "recent":
		return RankByRecent
	default:
		return RankByDuration
	}
}

func (r RankingSort) String() string {
	switch r {
	case RankByTotalTime:
		return "total_time"
	case RankBySessions:
		return "sessions"
	case RankByRecent:
		return "recent"
	default:
		return "duration"
	}
}

func (r RankingSort) column() string {
	switch r {
	case RankByTotalTime:
		return "total_duration"
	case RankBySessions:
		return "session_count"
	case RankByRecent:
		return "latest_session"
	default:
		return "best_duration"
	}
}

// Order is a sort direction.
type Order int

const (
	Desc Order = iota
	Asc
)

// ParseOrder returns Asc for "asc" (any case) and Desc otherwise.
func ParseOrder(s string) Order {
	if strings.EqualFold(strings.TrimSpace(s), "asc") {
		return Asc
	}
	return Desc
}

func (o Order) String() string {
	if o == Asc {
		return "asc"
	}
	return "desc"
}

func (o Order) sql() string {
	if o == Asc {
		return "ASC"
	}
	return "DESC"
}

// ListParams filters and pages ListSessions.
type ListParams struct {
	Limit    int
	Offset   int
	Username string
	Sort     SortField
	Order    Order
}

func (p ListParams) normalized() ListParams {
	p.Limit = clampLimit(p.Limit, DefaultListLimit)
	if p.Offset < 0 {
		p.Offset = 0
	}
	p.Username = strings.TrimSpace(p.Username)
	return p
}

// RankingParams filters and orders UserRankings.
type RankingParams struct {
	Limit    int
	SortBy   RankingSort
	Order    Order
	Username string
}

func (p RankingParams) normalized() RankingParams {
	p.Limit = clampLimit(p.Limit, DefaultRankingLimit)
	p.Username = strings.TrimSpace(p.Username)
	return p
}

// clampLimit replaces non-positive limits with def and caps at MaxListLimit.
func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
