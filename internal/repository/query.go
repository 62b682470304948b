package repository

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/hatdata/internal/entity"
	"github.com/roach88/hatdata/internal/property"
	"github.com/roach88/hatdata/internal/schema"
)

// Filter keeps entities whose property Name equals Value.
type Filter struct {
	Name  string
	Value any
}

// Comparator orders two parsed values: negative, zero or positive.
type Comparator func(a, b any) int

// Sorter orders entities by one property.
type Sorter struct {
	Name      string
	Direction string // "ASC" (default) or "DESC"
	Fn        Comparator
}

// SorterFromConfig turns a schema sorter into a Sorter, selecting the
// natural comparator when requested.
func SorterFromConfig(c schema.SorterConfig) Sorter {
	s := Sorter{Name: c.Name, Direction: c.Direction}
	if c.Natural {
		s.Fn = NaturalComparator
	}
	return s
}

func (s Sorter) compare(a, b *entity.Entity) int {
	fn := s.Fn
	if fn == nil {
		fn = DefaultComparator
	}
	va, _ := a.ParsedValue(s.Name)
	vb, _ := b.ParsedValue(s.Name)
	c := fn(va, vb)
	if strings.EqualFold(s.Direction, "DESC") {
		return -c
	}
	return c
}

// DefaultComparator compares values of the same kind naively: numbers
// numerically, strings bytewise, false before true, times chronologically.
// Nil sorts first; mismatched kinds compare by their printed form.
func DefaultComparator(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return cmp.Compare(fa, fb)
		}
	}
	switch va := a.(type) {
	case string:
		if vb, ok := b.(string); ok {
			return strings.Compare(va, vb)
		}
	case bool:
		if vb, ok := b.(bool); ok {
			switch {
			case va == vb:
				return 0
			case !va:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if vb, ok := b.(time.Time); ok {
			return va.Compare(vb)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

var (
	naturalMu       sync.Mutex
	naturalCollator = collate.New(language.Und, collate.Numeric, collate.IgnoreCase)
)

// NaturalComparator orders strings with embedded numbers by numeric value
// ("item2" before "item10"), ignoring case. Non-strings fall back to
// DefaultComparator.
func NaturalComparator(a, b any) int {
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return DefaultComparator(a, b)
	}
	naturalMu.Lock()
	defer naturalMu.Unlock()
	return naturalCollator.CompareString(norm.NFC.String(sa), norm.NFC.String(sb))
}

// compareEntities applies sorters in order; the first non-zero result wins.
func compareEntities(sorters []Sorter) func(a, b *entity.Entity) int {
	return func(a, b *entity.Entity) int {
		for _, s := range sorters {
			if c := s.compare(a, b); c != 0 {
				return c
			}
		}
		return 0
	}
}

func (r *Repository) sortEntities() {
	if len(r.sorters) == 0 {
		return
	}
	slices.SortStableFunc(r.entities, compareEntities(r.sorters))
}

func (r *Repository) matches(e *entity.Entity) bool {
	if e.IsDestroyed() {
		return false
	}
	for _, f := range r.filters {
		v, err := e.ParsedValue(f.Name)
		if err != nil || !property.Equal(v, f.Value) {
			return false
		}
	}
	return r.filterFn == nil || r.filterFn(e)
}

// Filters returns the active property filters.
func (r *Repository) Filters() []Filter { return slices.Clone(r.filters) }

// Sorters returns the active sorters.
func (r *Repository) Sorters() []Sorter { return slices.Clone(r.sorters) }

// SetFilters replaces the property filters and returns to page 1.
func (r *Repository) SetFilters(filters ...Filter) {
	r.filters = slices.Clone(filters)
	r.page = 1
	_ = r.Emit(EventChangeFilters, r)
}

// AddFilter appends one filter and returns to page 1.
func (r *Repository) AddFilter(name string, value any) {
	r.SetFilters(append(r.filters, Filter{Name: name, Value: value})...)
}

// ClearFilters removes every filter, including the filter func.
func (r *Repository) ClearFilters() {
	r.filterFn = nil
	r.SetFilters()
}

// FilterFunc installs an arbitrary predicate alongside the property filters.
func (r *Repository) FilterFunc(fn func(*entity.Entity) bool) {
	r.filterFn = fn
	r.page = 1
	_ = r.Emit(EventChangeFilters, r)
}

// SetSorters replaces the sorters, re-sorts and returns to page 1.
func (r *Repository) SetSorters(sorters ...Sorter) {
	r.sorters = slices.Clone(sorters)
	r.sortEntities()
	r.page = 1
	_ = r.Emit(EventChangeSorters, r)
}

// Sort orders by a single property.
func (r *Repository) Sort(name, direction string) {
	r.SetSorters(Sorter{Name: name, Direction: direction})
}

// PageInfo is the pagination state for a result set.
type PageInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
	PageStart  int `json:"page_start"` // 1-based, 0 when empty
	PageEnd    int `json:"page_end"`
	PageTotal  int `json:"page_total"`
}

// CalculatePaginationVars clamps page into range and derives the visible
// window for total rows split into pages of pageSize.
func CalculatePaginationVars(total, page, pageSize int) PageInfo {
	if pageSize <= 0 {
		pageSize = max(total, 1)
	}
	totalPages := max((total+pageSize-1)/pageSize, 1)
	page = min(max(page, 1), totalPages)

	info := PageInfo{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages}
	if total == 0 {
		return info
	}
	info.PageStart = (page-1)*pageSize + 1
	info.PageEnd = min(page*pageSize, total)
	info.PageTotal = info.PageEnd - info.PageStart + 1
	return info
}

// PageInfo reports pagination over the filtered collection.
func (r *Repository) PageInfo() PageInfo {
	total := len(r.filtered())
	if !r.isPaginated {
		return CalculatePaginationVars(total, 1, 0)
	}
	return CalculatePaginationVars(total, r.page, r.pageSize)
}

func (r *Repository) Page() int     { return r.page }
func (r *Repository) PageSize() int { return r.pageSize }

// SetPage moves to page n, clamped into range. Filters and sorters are kept.
func (r *Repository) SetPage(n int) {
	info := CalculatePaginationVars(len(r.filtered()), n, r.pageSize)
	if info.Page == r.page {
		return
	}
	r.page = info.Page
	_ = r.Emit(EventChangePage, r, r.page)
}

func (r *Repository) NextPage() { r.SetPage(r.page + 1) }
func (r *Repository) PrevPage() { r.SetPage(r.page - 1) }

// SetPageSize enables pagination with n rows per page and returns to page 1.
// Zero or less disables pagination.
func (r *Repository) SetPageSize(n int) {
	r.isPaginated = n > 0
	r.pageSize = max(n, 0)
	r.page = 1
	_ = r.Emit(EventChangePageSize, r, r.pageSize)
}

func (r *Repository) filtered() []*entity.Entity {
	out := make([]*entity.Entity, 0, len(r.entities))
	for _, e := range r.entities {
		if r.matches(e) {
			out = append(out, e)
		}
	}
	if len(r.sorters) > 0 {
		slices.SortStableFunc(out, compareEntities(r.sorters))
	}
	return out
}

// GetEntities returns the filtered, sorted entities on the current page.
func (r *Repository) GetEntities() []*entity.Entity {
	all := r.filtered()
	if !r.isPaginated {
		return all
	}
	info := CalculatePaginationVars(len(all), r.page, r.pageSize)
	if info.Total == 0 {
		return all
	}
	return all[info.PageStart-1 : info.PageEnd]
}

// All returns every entity regardless of filters and pagination.
func (r *Repository) All() []*entity.Entity { return slices.Clone(r.entities) }

// Len counts every entity in the collection.
func (r *Repository) Len() int { return len(r.entities) }

// GetByID returns the entity with the given id, or nil.
func (r *Repository) GetByID(id any) *entity.Entity {
	for _, e := range r.entities {
		if idEqual(e.ID(), id) {
			return e
		}
	}
	return nil
}

// GetByIx returns the entity at position i of GetEntities, or nil.
func (r *Repository) GetByIx(i int) *entity.Entity {
	list := r.GetEntities()
	if i < 0 || i >= len(list) {
		return nil
	}
	return list[i]
}

func (r *Repository) GetFirst() *entity.Entity { return r.GetByIx(0) }

func (r *Repository) GetLast() *entity.Entity {
	return r.GetByIx(len(r.GetEntities()) - 1)
}

func (r *Repository) collect(keep func(*entity.Entity) bool) []*entity.Entity {
	var out []*entity.Entity
	for _, e := range r.entities {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (r *Repository) GetNonPersisted() []*entity.Entity {
	return r.collect(func(e *entity.Entity) bool { return !e.IsPersisted() })
}

func (r *Repository) GetDirty() []*entity.Entity {
	return r.collect((*entity.Entity).IsDirty)
}

func (r *Repository) GetDeleted() []*entity.Entity {
	return r.collect((*entity.Entity).IsDeleted)
}

// GetRawValues returns each entity's raw values in collection order.
func (r *Repository) GetRawValues() []map[string]any {
	out := make([]map[string]any, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e.GetRawValues())
	}
	return out
}

// GetOriginalData returns each entity's original data in collection order.
func (r *Repository) GetOriginalData() []map[string]any {
	out := make([]map[string]any, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e.GetOriginalData())
	}
	return out
}
