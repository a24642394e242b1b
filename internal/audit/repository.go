package audit

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository reads audit entries from PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// TimelineWindow returns a window of the tenant's audit trail, newest first.
func (r *PgRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	query := `SELECT occurred_at, actor_id, action, entity, entity_id, meta FROM audit_logs WHERE tenant_id = $1`
	args := []any{filters.TenantID}
	if !filters.From.IsZero() {
		args = append(args, filters.From)
		query += ` AND occurred_at >= $` + strconv.Itoa(len(args))
	}
	if !filters.To.IsZero() {
		args = append(args, filters.To)
		query += ` AND occurred_at < $` + strconv.Itoa(len(args))
	}
	if filters.ActorID != 0 {
		args = append(args, filters.ActorID)
		query += ` AND actor_id = $` + strconv.Itoa(len(args))
	}
	if filters.Entity != "" {
		args = append(args, filters.Entity)
		query += ` AND entity = $` + strconv.Itoa(len(args))
	}
	if filters.Action != "" {
		args = append(args, filters.Action)
		query += ` AND action = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))
	args = append(args, offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []TimelineRow{}
	for rows.Next() {
		var row TimelineRow
		var meta []byte
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &row.Meta)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
