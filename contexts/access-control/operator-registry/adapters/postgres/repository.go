package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/access-control/operator-registry/domain/entities"
	domainerrors "agora/contexts/access-control/operator-registry/domain/errors"
	"agora/contexts/access-control/operator-registry/ports"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Grant(ctx context.Context, input ports.GrantInput) error {
	row := grantModelFromEntity(input.Grant)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing grantModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("operator_id = ?", row.OperatorID).
			First(&existing).
			Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case existing.RevokedAt == nil:
			return domainerrors.ErrOperatorAlreadyGranted
		default:
			// Re-activate a previously revoked grant.
			if err := tx.Model(&grantModel{}).
				Where("operator_id = ?", row.OperatorID).
				Updates(map[string]any{
					"granted_by": row.GrantedBy,
					"reason":     row.Reason,
					"granted_at": row.GrantedAt,
					"revoked_at": nil,
				}).Error; err != nil {
				return err
			}
		}
		return appendOutboxTx(tx, input.Envelope)
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrOperatorAlreadyGranted) {
			return err
		}
		return r.logError("access_repo_grant_failed", err, "operator_id", row.OperatorID)
	}
	return nil
}

func (r *Repository) Revoke(ctx context.Context, input ports.RevokeInput) error {
	operatorID := strings.TrimSpace(input.OperatorID)
	revokedAt := input.RevokedAt.UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&grantModel{}).
			Where("operator_id = ?", operatorID).
			Where("revoked_at IS NULL").
			Update("revoked_at", revokedAt)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domainerrors.ErrOperatorNotGranted
		}
		return appendOutboxTx(tx, input.Envelope)
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrOperatorNotGranted) {
			return err
		}
		return r.logError("access_repo_revoke_failed", err, "operator_id", operatorID)
	}
	return nil
}

func (r *Repository) SeedGrant(ctx context.Context, grant entities.OperatorGrant) error {
	row := grantModelFromEntity(grant)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing grantModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("operator_id = ?", row.OperatorID).
			First(&existing).
			Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&row).Error
		case err != nil:
			return err
		case existing.RevokedAt == nil:
			return nil
		default:
			return tx.Model(&grantModel{}).
				Where("operator_id = ?", row.OperatorID).
				Updates(map[string]any{
					"granted_by": row.GrantedBy,
					"reason":     row.Reason,
					"granted_at": row.GrantedAt,
					"revoked_at": nil,
				}).Error
		}
	})
	if err != nil {
		return r.logError("access_repo_seed_grant_failed", err, "operator_id", row.OperatorID)
	}
	return nil
}

func (r *Repository) GetGrant(ctx context.Context, operatorID string) (entities.OperatorGrant, bool, error) {
	var row grantModel
	err := r.db.WithContext(ctx).
		Where("operator_id = ?", strings.TrimSpace(operatorID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.OperatorGrant{}, false, nil
		}
		return entities.OperatorGrant{}, false, r.logError("access_repo_get_grant_failed", err,
			"operator_id", strings.TrimSpace(operatorID),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) ListActiveGrants(ctx context.Context) ([]entities.OperatorGrant, error) {
	var rows []grantModel
	if err := r.db.WithContext(ctx).
		Where("revoked_at IS NULL").
		Order("operator_id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("access_repo_list_active_grants_failed", err)
	}
	items := make([]entities.OperatorGrant, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) GetRecord(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var row idempotencyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", strings.TrimSpace(key)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, r.logError("access_repo_idempotency_get_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	if !row.ExpiresAt.IsZero() && now.UTC().After(row.ExpiresAt.UTC()) {
		if err := r.db.WithContext(ctx).
			Where("key = ?", strings.TrimSpace(key)).
			Delete(&idempotencyModel{}).Error; err != nil {
			return ports.IdempotencyRecord{}, false, r.logError("access_repo_idempotency_expire_delete_failed", err,
				"idempotency_key", strings.TrimSpace(key),
			)
		}
		return ports.IdempotencyRecord{}, false, nil
	}
	return ports.IdempotencyRecord{
		Key:             row.Key,
		Operation:       row.Operation,
		RequestHash:     row.RequestHash,
		ResponsePayload: append([]byte(nil), row.ResponsePayload...),
		ExpiresAt:       row.ExpiresAt.UTC(),
	}, true, nil
}

func (r *Repository) PutRecord(ctx context.Context, record ports.IdempotencyRecord) error {
	row := idempotencyModel{
		Key:             strings.TrimSpace(record.Key),
		Operation:       strings.TrimSpace(record.Operation),
		RequestHash:     strings.TrimSpace(record.RequestHash),
		ResponsePayload: append([]byte(nil), record.ResponsePayload...),
		ExpiresAt:       record.ExpiresAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("access_repo_idempotency_put_failed", create.Error, "idempotency_key", row.Key)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing idempotencyModel
	if err := r.db.WithContext(ctx).
		Where("key = ?", row.Key).
		First(&existing).Error; err != nil {
		return r.logError("access_repo_idempotency_load_existing_failed", err, "idempotency_key", row.Key)
	}
	if existing.RequestHash != row.RequestHash {
		return domainerrors.ErrIdempotencyConflict
	}
	return nil
}

func (r *Repository) NextEventSequence(ctx context.Context, eventType string) (uint64, error) {
	var nextValue int64
	err := r.db.WithContext(ctx).
		Raw(`INSERT INTO access_event_sequences (event_type, next_value)
		     VALUES (?, 1)
		     ON CONFLICT (event_type)
		     DO UPDATE SET next_value = access_event_sequences.next_value + 1
		     RETURNING next_value`, strings.TrimSpace(eventType)).
		Scan(&nextValue).
		Error
	if err != nil {
		return 0, r.logError("access_repo_next_event_sequence_failed", err,
			"event_type", strings.TrimSpace(eventType),
		)
	}
	return uint64(nextValue), nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("access_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("access_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func appendOutboxTx(tx *gorm.DB, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return create.Error
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := tx.Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return err
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrIdempotencyConflict
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "access-control/operator-registry",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("operator registry repository operation failed", fields...)
	return err
}

type grantModel struct {
	OperatorID string     `gorm:"column:operator_id;primaryKey"`
	GrantedBy  string     `gorm:"column:granted_by"`
	Reason     string     `gorm:"column:reason"`
	GrantedAt  time.Time  `gorm:"column:granted_at"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
}

func (grantModel) TableName() string {
	return "access_operator_grants"
}

func grantModelFromEntity(grant entities.OperatorGrant) grantModel {
	row := grantModel{
		OperatorID: strings.TrimSpace(grant.OperatorID),
		GrantedBy:  strings.TrimSpace(grant.GrantedBy),
		Reason:     strings.TrimSpace(grant.Reason),
		GrantedAt:  grant.GrantedAt.UTC(),
	}
	if grant.RevokedAt != nil {
		revokedAt := grant.RevokedAt.UTC()
		row.RevokedAt = &revokedAt
	}
	if row.GrantedAt.IsZero() {
		row.GrantedAt = time.Now().UTC()
	}
	return row
}

func (m grantModel) toEntity() entities.OperatorGrant {
	grant := entities.OperatorGrant{
		OperatorID: m.OperatorID,
		GrantedBy:  m.GrantedBy,
		Reason:     m.Reason,
		GrantedAt:  m.GrantedAt.UTC(),
	}
	if m.RevokedAt != nil {
		revokedAt := m.RevokedAt.UTC()
		grant.RevokedAt = &revokedAt
	}
	return grant
}

type idempotencyModel struct {
	Key             string    `gorm:"column:key;primaryKey"`
	Operation       string    `gorm:"column:operation"`
	RequestHash     string    `gorm:"column:request_hash"`
	ResponsePayload []byte    `gorm:"column:response_payload"`
	ExpiresAt       time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "access_idempotency"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "access_outbox"
}

var _ ports.GrantRepository = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.EventSequences = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
