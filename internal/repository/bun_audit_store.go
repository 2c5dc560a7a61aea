package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/athendat/classical-server-app-sub000/internal/audit"
	"github.com/athendat/classical-server-app-sub000/internal/db/models"
)

// BunAuditStore implements audit.Store against models.AuditEvent.
type BunAuditStore struct {
	db *bun.DB
}

// NewBunAuditStore constructs a BunAuditStore.
func NewBunAuditStore(db *bun.DB) *BunAuditStore {
	return &BunAuditStore{db: db}
}

func (r *BunAuditStore) Insert(ctx context.Context, event audit.Event) error {
	row := toModel(event)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	_, err := r.db.NewInsert().Model(row).Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: insert audit event: %w", err)
	}
	return nil
}

func (r *BunAuditStore) Update(ctx context.Context, event audit.Event) error {
	row := toModel(event)
	_, err := r.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("repository: update audit event: %w", err)
	}
	return nil
}

func (r *BunAuditStore) Get(ctx context.Context, id string) (*audit.Event, error) {
	row := new(models.AuditEvent)
	err := r.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if err == sqlNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: get audit event: %w", err)
	}
	event := fromModel(*row)
	return &event, nil
}

func (r *BunAuditStore) Query(ctx context.Context, filter audit.QueryFilter) (audit.Page, error) {
	q := r.db.NewSelect().Model((*models.AuditEvent)(nil))

	if len(filter.Action) > 0 {
		q = q.Where("action IN (?)", bun.In(filter.Action))
	}
	if len(filter.ActorKid) > 0 {
		q = q.Where("actor_kid IN (?)", bun.In(filter.ActorKid))
	}
	if len(filter.ActorSub) > 0 {
		q = q.Where("actor_sub IN (?)", bun.In(filter.ActorSub))
	}
	if len(filter.ResourceType) > 0 {
		q = q.Where("resource_type IN (?)", bun.In(filter.ResourceType))
	}
	if len(filter.Result) > 0 {
		q = q.Where("result IN (?)", bun.In(filter.Result))
	}
	if len(filter.Severity) > 0 {
		q = q.Where("severity IN (?)", bun.In(filter.Severity))
	}
	if len(filter.Method) > 0 {
		q = q.Where("method IN (?)", bun.In(filter.Method))
	}
	if len(filter.StatusCode) > 0 {
		q = q.Where("status_code IN (?)", bun.In(filter.StatusCode))
	}
	if filter.AtFrom != nil {
		q = q.Where("at >= ?", *filter.AtFrom)
	}
	if filter.AtTo != nil {
		q = q.Where("at <= ?", *filter.AtTo)
	}
	if filter.Text != "" {
		like := "%" + filter.Text + "%"
		q = q.Where("action ILIKE ? OR resource_ref ILIKE ?", like, like)
	}

	total, err := q.Count(ctx)
	if err != nil {
		return audit.Page{}, fmt.Errorf("repository: count audit events: %w", err)
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "at"
	}
	sortOrder := "DESC"
	if filter.SortOrder == "asc" {
		sortOrder = "ASC"
	}
	q = q.OrderExpr("? ?", bun.Safe(sortBy), bun.Safe(sortOrder))

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	q = q.Limit(limit).Offset((page - 1) * limit)

	var rows []models.AuditEvent
	if err := q.Scan(ctx, &rows); err != nil {
		return audit.Page{}, fmt.Errorf("repository: query audit events: %w", err)
	}

	events := make([]audit.Event, len(rows))
	for i, row := range rows {
		events[i] = fromModel(row)
	}

	totalPages := (total + limit - 1) / limit
	return audit.Page{
		Items:      events,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

func (r *BunAuditStore) RecentUnresolvedByRequestID(ctx context.Context, requestID string, since time.Time, limit int) ([]audit.Event, error) {
	var rows []models.AuditEvent
	err := r.db.NewSelect().Model(&rows).
		Where("request_id = ?", requestID).
		Where("at >= ?", since).
		Where("status_code = 0 OR status_code IS NULL").
		Order("at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: find unresolved audit events: %w", err)
	}
	events := make([]audit.Event, len(rows))
	for i, row := range rows {
		events[i] = fromModel(row)
	}
	return events, nil
}

func (r *BunAuditStore) ArchiveBefore(ctx context.Context, beforeEpochMs int64) (int, error) {
	cutoff := time.UnixMilli(beforeEpochMs)
	res, err := r.db.NewDelete().Model((*models.AuditEvent)(nil)).
		Where("at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository: archive audit events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repository: rows affected: %w", err)
	}
	return int(affected), nil
}

func toModel(event audit.Event) *models.AuditEvent {
	query := make(map[string]any, len(event.Query))
	for k, v := range event.Query {
		query[k] = v
	}
	headers := make(map[string]any, len(event.Headers))
	for k, v := range event.Headers {
		headers[k] = v
	}
	response, _ := event.Response.(map[string]any)

	return &models.AuditEvent{
		ID:            event.ID,
		RequestID:     event.RequestID,
		At:            event.At,
		ActorKid:      event.ActorKid,
		ActorSub:      event.ActorSub,
		Action:        event.Action,
		Module:        event.Module,
		Result:        string(event.Result),
		Reason:        event.Reason,
		ResourceType:  event.ResourceType,
		ResourceRef:   event.ResourceRef,
		Method:        event.Method,
		Endpoint:      event.Endpoint,
		Query:         query,
		Headers:       headers,
		Payload:       event.Payload,
		StatusCode:    event.StatusCode,
		LatencyMs:     event.LatencyMs,
		Response:      response,
		ChangesBefore: event.ChangesBefore,
		ChangesAfter:  event.ChangesAfter,
		ErrorCode:     event.ErrorCode,
		ErrorMessage:  event.ErrorMessage,
		Severity:      string(event.Severity),
		Tags:          event.Tags,
	}
}

func fromModel(row models.AuditEvent) audit.Event {
	query := make(map[string][]string, len(row.Query))
	for k, v := range row.Query {
		if s, ok := v.([]string); ok {
			query[k] = s
		}
	}
	headers := make(map[string][]string, len(row.Headers))
	for k, v := range row.Headers {
		if s, ok := v.([]string); ok {
			headers[k] = s
		}
	}

	return audit.Event{
		ID:            row.ID,
		RequestID:     row.RequestID,
		At:            row.At,
		ActorKid:      row.ActorKid,
		ActorSub:      row.ActorSub,
		Action:        row.Action,
		Module:        row.Module,
		Result:        audit.Result(row.Result),
		Reason:        row.Reason,
		ResourceType:  row.ResourceType,
		ResourceRef:   row.ResourceRef,
		Method:        row.Method,
		Endpoint:      row.Endpoint,
		Query:         query,
		Headers:       headers,
		Payload:       row.Payload,
		StatusCode:    row.StatusCode,
		LatencyMs:     row.LatencyMs,
		Response:      row.Response,
		ChangesBefore: row.ChangesBefore,
		ChangesAfter:  row.ChangesAfter,
		ErrorCode:     row.ErrorCode,
		ErrorMessage:  row.ErrorMessage,
		Severity:      audit.Severity(row.Severity),
		Tags:          row.Tags,
	}
}
