package results

import (
	"sort"
	"strings"
	"time"

	"github.com/speedwaylabs/speedway/internal/models"
)

// Filter narrows a query over the results log. Zero-valued fields match
// everything.
type Filter struct {
	Task     string
	Agent    string
	Model    string
	Language string
	Statuses []models.Status
	RunID    string
	Since    time.Time
	Until    time.Time
	Contains string
	Limit    int
}

// Matches reports whether rec satisfies every set field of the filter.
func (f Filter) Matches(rec models.ResultRecord) bool {
	if f.Task != "" && rec.Task != f.Task {
		return false
	}
	if f.Agent != "" && rec.Agent != f.Agent {
		return false
	}
	if f.Model != "" && rec.Model != f.Model {
		return false
	}
	if f.Language != "" && rec.Language != f.Language {
		return false
	}
	if f.RunID != "" && rec.RunID != f.RunID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if rec.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && rec.FinishedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.FinishedAt.After(f.Until) {
		return false
	}
	if f.Contains != "" && !strings.Contains(rec.ErrorMessage, f.Contains) {
		return false
	}
	return true
}

// Query returns matching records, most recently finished first. Limit, when
// positive, caps the result after sorting.
func (s *Store) Query(f Filter) ([]models.ResultRecord, error) {
	records, err := s.All()
	if err != nil {
		return nil, err
	}

	var matched []models.ResultRecord
	for _, rec := range records {
		if f.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].FinishedAt.After(matched[j].FinishedAt)
	})
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// StatRow is one aggregate bucket of Stats.
type StatRow struct {
	Group          map[string]string
	Total          int
	Passed         int
	Failed         int
	Errors         int
	Timeouts       int
	Cancelled      int
	PassRate       float64
	AvgDurationSec float64
}

// Stats aggregates matching records grouped by the named record fields
// (task, agent, model, language). An empty groupBy produces a single
// all-records row.
func (s *Store) Stats(groupBy []string, f Filter) ([]StatRow, error) {
	records, err := s.Query(f)
	if err != nil {
		return nil, err
	}

	rows := make(map[string]*StatRow)
	var keys []string
	for _, rec := range records {
		parts := make([]string, len(groupBy))
		group := make(map[string]string, len(groupBy))
		for i, field := range groupBy {
			v := rec.GroupKey(field)
			parts[i] = v
			group[field] = v
		}
		key := strings.Join(parts, "\x1f")

		row, ok := rows[key]
		if !ok {
			row = &StatRow{Group: group}
			rows[key] = row
			keys = append(keys, key)
		}
		row.Total++
		switch rec.Status {
		case models.StatusPassed:
			row.Passed++
		case models.StatusFailed:
			row.Failed++
		case models.StatusError:
			row.Errors++
		case models.StatusTimeout:
			row.Timeouts++
		case models.StatusCancelled:
			row.Cancelled++
		}
		row.AvgDurationSec += rec.DurationSec
	}

	sort.Strings(keys)
	out := make([]StatRow, 0, len(keys))
	for _, key := range keys {
		row := rows[key]
		if row.Total > 0 {
			row.PassRate = float64(row.Passed) / float64(row.Total)
			row.AvgDurationSec /= float64(row.Total)
		}
		out = append(out, *row)
	}
	return out, nil
}

// LatestPerGroup returns, for each group, the record with the most recent
// FinishedAt. Useful for "current standing" views where old attempts should
// not drown out the newest one.
func (s *Store) LatestPerGroup(groupBy []string, f Filter) ([]models.ResultRecord, error) {
	records, err := s.Query(f)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]models.ResultRecord)
	var keys []string
	for _, rec := range records {
		parts := make([]string, len(groupBy))
		for i, field := range groupBy {
			parts[i] = rec.GroupKey(field)
		}
		key := strings.Join(parts, "\x1f")
		prev, ok := latest[key]
		if !ok {
			latest[key] = rec
			keys = append(keys, key)
			continue
		}
		if rec.FinishedAt.After(prev.FinishedAt) {
			latest[key] = rec
		}
	}

	sort.Strings(keys)
	out := make([]models.ResultRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, latest[key])
	}
	return out, nil
}
