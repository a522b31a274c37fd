// Package bookshelf implements the pure query layer over a user's manuscript
// collection. Queries operate on snapshots and never mutate or lock anything,
// so callers may recompute them on every render.
package bookshelf

import (
	"sort"
	"strings"

	"inkstudio/pkg/domain"
)

// SortKey names the supported bookshelf orderings.
type SortKey string

const (
	SortRecentlyAnalyzed SortKey = "recently-analyzed"
	SortTitleAZ          SortKey = "title-az"
	SortWordCountHigh    SortKey = "word-count-high"
	SortStatus           SortKey = "status"
	SortUploadDate       SortKey = "upload-date"
)

// ParseSortKey normalizes a user-supplied sort string, defaulting to
// upload-date ordering.
func ParseSortKey(raw string) SortKey {
	switch SortKey(strings.ToLower(strings.TrimSpace(raw))) {
	case SortRecentlyAnalyzed:
		return SortRecentlyAnalyzed
	case SortTitleAZ:
		return SortTitleAZ
	case SortWordCountHigh:
		return SortWordCountHigh
	case SortStatus:
		return SortStatus
	default:
		return SortUploadDate
	}
}

// Query bundles the bookshelf filter inputs. Search matches title or author,
// case-insensitive substring. Status, when set, must match exactly.
type Query struct {
	Search string
	Status domain.ManuscriptStatus
	Sort   SortKey
}

// List filters and orders a snapshot of manuscripts. The input slice is not
// modified.
func List(manuscripts []domain.Manuscript, q Query) []domain.Manuscript {
	out := make([]domain.Manuscript, 0, len(manuscripts))
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	for _, m := range manuscripts {
		if needle != "" &&
			!strings.Contains(strings.ToLower(m.Title), needle) &&
			!strings.Contains(strings.ToLower(m.Author), needle) {
			continue
		}
		if q.Status != "" && m.Status != q.Status {
			continue
		}
		out = append(out, m)
	}
	sortManuscripts(out, q.Sort)
	return out
}

func sortManuscripts(ms []domain.Manuscript, key SortKey) {
	switch key {
	case SortRecentlyAnalyzed:
		sort.SliceStable(ms, func(i, j int) bool {
			a, b := ms[i].LastAnalyzed, ms[j].LastAnalyzed
			switch {
			case a == nil && b == nil:
				return ms[i].UploadedAt.After(ms[j].UploadedAt)
			case a == nil:
				return false // nulls last
			case b == nil:
				return true
			case a.Equal(*b):
				return ms[i].UploadedAt.After(ms[j].UploadedAt)
			default:
				return a.After(*b)
			}
		})
	case SortTitleAZ:
		sort.SliceStable(ms, func(i, j int) bool {
			return strings.ToLower(ms[i].Title) < strings.ToLower(ms[j].Title)
		})
	case SortWordCountHigh:
		sort.SliceStable(ms, func(i, j int) bool {
			return ms[i].WordCount > ms[j].WordCount
		})
	case SortStatus:
		sort.SliceStable(ms, func(i, j int) bool {
			return ms[i].Status < ms[j].Status
		})
	default:
		sort.SliceStable(ms, func(i, j int) bool {
			return ms[i].UploadedAt.After(ms[j].UploadedAt)
		})
	}
}
