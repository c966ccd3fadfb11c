package app

import (
	"sort"
	"strings"
	"time"
)

// SearchFilters toggles each result category. Disabling every category makes
// the search return nothing, whatever the query says.
type SearchFilters struct {
	Messages    bool `json:"messages"`
	Users       bool `json:"users"`
	Chats       bool `json:"chats"`
	ActionItems bool `json:"actionItems"`
	Decisions   bool `json:"decisions"`
	Meetings    bool `json:"meetings"`
}

func (f SearchFilters) anyEnabled() bool {
	return f.Messages || f.Users || f.Chats || f.ActionItems || f.Decisions || f.Meetings
}

// SearchDateRange narrows results to a relative time window.
type SearchDateRange string

const (
	DateRangeNone      SearchDateRange = "none"
	DateRangeToday     SearchDateRange = "today"
	DateRangeYesterday SearchDateRange = "yesterday"
	DateRangeThisWeek  SearchDateRange = "thisWeek"
	DateRangeThisMonth SearchDateRange = "thisMonth"
)

// bounds resolves the window to absolute times in now's location. bounded is
// false for an unrestricted range.
func (r SearchDateRange) bounds(now time.Time) (start, end time.Time, bounded bool) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch r {
	case DateRangeToday:
		return day, day.Add(24 * time.Hour), true
	case DateRangeYesterday:
		return day.Add(-24 * time.Hour), day, true
	case DateRangeThisWeek:
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // weeks start on Monday
		}
		start = day.AddDate(0, 0, -(weekday - 1))
		return start, start.AddDate(0, 0, 7), true
	case DateRangeThisMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0), true
	}
	return time.Time{}, time.Time{}, false
}

func (r SearchDateRange) contains(now, ts time.Time) bool {
	start, end, bounded := r.bounds(now)
	if !bounded {
		return true
	}
	return !ts.Before(start) && ts.Before(end)
}

// SearchRequest is one smart search invocation. ChatIDs scopes the search to
// the caller's chats; the caller's chat list is its visibility boundary.
type SearchRequest struct {
	Query     string          `json:"query"`
	ChatIDs   []string        `json:"chatIds"`
	Filters   SearchFilters   `json:"filters"`
	DateRange SearchDateRange `json:"dateRange"`
}

// SearchResult is one typed hit, scored for relevance.
type SearchResult struct {
	Type      string    `json:"type"`
	ChatID    string    `json:"chatId"`
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
}

// relevance scores text against the query: fraction of query tokens present,
// with a bonus for the whole phrase appearing verbatim.
func relevance(query, text string) float64 {
	query = strings.ToLower(strings.TrimSpace(query))
	text = strings.ToLower(text)
	if query == "" || text == "" {
		return 0
	}
	tokens := strings.Fields(query)
	matched := 0
	for _, token := range tokens {
		if strings.Contains(text, token) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	score := float64(matched) / float64(len(tokens))
	if strings.Contains(text, query) {
		score += 0.5
	}
	return score
}

func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Timestamp.After(results[j].Timestamp)
	})
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > 160 {
		return string(runes[:160]) + "…"
	}
	return text
}
