package store

import (
	"strings"

	"checkpoint/pkg/domain"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// StudentFilter narrows a record listing. Zero value matches everything.
type StudentFilter struct {
	// Search is a case-insensitive substring of name, student_id or class_name.
	Search string
	// Status must equal the record status exactly when set.
	Status domain.StudentStatus
	// Page is 1-based; 0 disables pagination.
	Page     int
	PageSize int
}

// Normalize trims the search term and clamps paging values.
func (f StudentFilter) Normalize() StudentFilter {
	f.Search = strings.TrimSpace(f.Search)
	if f.Page < 0 {
		f.Page = 0
	}
	if f.Page > 0 {
		if f.PageSize <= 0 {
			f.PageSize = DefaultPageSize
		}
		if f.PageSize > MaxPageSize {
			f.PageSize = MaxPageSize
		}
	} else {
		f.PageSize = 0
	}
	return f
}

// Matches reports whether s satisfies the search and status predicates.
func (f StudentFilter) Matches(s domain.Student) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.Search == "" {
		return true
	}
	q := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(s.Name), q) ||
		strings.Contains(strings.ToLower(s.StudentID), q) ||
		strings.Contains(strings.ToLower(s.ClassName), q)
}

// Offset returns the number of rows to skip for the current page.
func (f StudentFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// Window slices an already filtered list to the requested page.
func (f StudentFilter) Window(items []domain.Student) []domain.Student {
	if f.Page == 0 {
		return items
	}
	start := f.Offset()
	if start >= len(items) {
		return []domain.Student{}
	}
	end := start + f.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// likePattern escapes LIKE metacharacters so the search term is matched literally.
func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(search)) + "%"
}
