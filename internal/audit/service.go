package audit

import (
	"context"
	"fmt"

	"github.com/valecore/valecore/internal/shared"
)

// Repository provides read access to stored audit entries.
type Repository interface {
	TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error)
}

const (
	defaultPageSize = 20
	maxPageSize     = 50
	exportBatchSize = 5000
)

// Service coordinates audit timeline reads.
type Service struct {
	repo Repository
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of the tenant's audit trail, newest first. One
// extra row is fetched to detect whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if filters.TenantID == 0 {
		return Result{}, fmt.Errorf("audit: tenant required: %w", shared.ErrValidation)
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.repo.TimelineWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns the full filtered timeline without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if filters.TenantID == 0 {
		return nil, fmt.Errorf("audit: tenant required: %w", shared.ErrValidation)
	}
	var all []TimelineRow
	offset := 0
	for {
		rows, err := s.repo.TimelineWindow(ctx, filters, exportBatchSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) < exportBatchSize {
			return all, nil
		}
		offset += exportBatchSize
	}
}
