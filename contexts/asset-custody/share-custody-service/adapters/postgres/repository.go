package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/asset-custody/share-custody-service/domain/entities"
	domainerrors "agora/contexts/asset-custody/share-custody-service/domain/errors"
	"agora/contexts/asset-custody/share-custody-service/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
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

func (r *Repository) UpsertLock(ctx context.Context, input ports.UpsertLockInput) (entities.BalanceLock, error) {
	holderID := strings.TrimSpace(input.HolderID)
	shareClassID := strings.TrimSpace(input.ShareClassID)
	lockedAt := input.LockedAt.UTC()

	var final lockModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var balance int64
		var holding holdingModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("share_class_id = ?", shareClassID).
			Where("holder_id = ?", holderID).
			First(&holding).
			Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			balance = 0
		case err != nil:
			return err
		default:
			balance = holding.Amount
		}

		var existing lockModel
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("holder_id = ?", holderID).
			Where("share_class_id = ?", shareClassID).
			First(&existing).
			Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if input.Amount > balance {
				return domainerrors.ErrInsufficientBalance
			}
			final = lockModel{
				HolderID:     holderID,
				ShareClassID: shareClassID,
				Amount:       input.Amount,
				UnlockAt:     input.UnlockAt.UTC(),
				CreatedAt:    lockedAt,
				UpdatedAt:    lockedAt,
			}
			if err := tx.Create(&final).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			final = existing
			final.Amount += input.Amount
			if final.Amount > balance {
				return domainerrors.ErrInsufficientBalance
			}
			if input.UnlockAt.UTC().After(final.UnlockAt.UTC()) {
				final.UnlockAt = input.UnlockAt.UTC()
			}
			final.UpdatedAt = lockedAt
			if err := tx.Model(&lockModel{}).
				Where("holder_id = ?", holderID).
				Where("share_class_id = ?", shareClassID).
				Updates(map[string]any{
					"amount":     final.Amount,
					"unlock_at":  final.UnlockAt,
					"updated_at": final.UpdatedAt,
				}).Error; err != nil {
				return err
			}
		}
		return appendOutboxTx(tx, input.Envelope)
	})
	if err != nil {
		return entities.BalanceLock{}, r.logError("custody_repo_upsert_lock_failed", err,
			"holder_id", holderID,
			"share_class_id", shareClassID,
		)
	}
	return final.toEntity(), nil
}

func (r *Repository) ReleaseLock(ctx context.Context, input ports.ReleaseLockInput) (entities.BalanceLock, error) {
	holderID := strings.TrimSpace(input.HolderID)
	shareClassID := strings.TrimSpace(input.ShareClassID)
	now := input.Now.UTC()

	var final lockModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing lockModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("holder_id = ?", holderID).
			Where("share_class_id = ?", shareClassID).
			First(&existing).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrLockNotFound
			}
			return err
		}
		if now.Before(existing.UnlockAt.UTC()) {
			return domainerrors.ErrUnlockTooEarly
		}
		if input.Amount > existing.Amount {
			return domainerrors.ErrInsufficientLocked
		}

		final = existing
		final.Amount -= input.Amount
		final.UpdatedAt = now
		if final.Amount == 0 {
			if err := tx.
				Where("holder_id = ?", holderID).
				Where("share_class_id = ?", shareClassID).
				Delete(&lockModel{}).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Model(&lockModel{}).
				Where("holder_id = ?", holderID).
				Where("share_class_id = ?", shareClassID).
				Updates(map[string]any{
					"amount":     final.Amount,
					"updated_at": final.UpdatedAt,
				}).Error; err != nil {
				return err
			}
		}
		return appendOutboxTx(tx, input.Envelope)
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrLockNotFound) ||
			errors.Is(err, domainerrors.ErrUnlockTooEarly) ||
			errors.Is(err, domainerrors.ErrInsufficientLocked) {
			return entities.BalanceLock{}, err
		}
		return entities.BalanceLock{}, r.logError("custody_repo_release_lock_failed", err,
			"holder_id", holderID,
			"share_class_id", shareClassID,
		)
	}
	return final.toEntity(), nil
}

func (r *Repository) RegisterFraction(ctx context.Context, input ports.RegisterFractionInput) error {
	row := fractionModelFromEntity(input.Fraction)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrFractionExists
			}
			return err
		}
		return appendOutboxTx(tx, input.Envelope)
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrFractionExists) {
			return err
		}
		return r.logError("custody_repo_register_fraction_failed", err,
			"fraction_id", row.FractionID,
		)
	}
	return nil
}

func (r *Repository) GetLock(ctx context.Context, holderID string, shareClassID string) (entities.BalanceLock, bool, error) {
	var row lockModel
	err := r.db.WithContext(ctx).
		Where("holder_id = ?", strings.TrimSpace(holderID)).
		Where("share_class_id = ?", strings.TrimSpace(shareClassID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.BalanceLock{}, false, nil
		}
		return entities.BalanceLock{}, false, r.logError("custody_repo_get_lock_failed", err,
			"holder_id", strings.TrimSpace(holderID),
			"share_class_id", strings.TrimSpace(shareClassID),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) ListLocks(ctx context.Context, holderID string) ([]entities.BalanceLock, error) {
	var rows []lockModel
	if err := r.db.WithContext(ctx).
		Where("holder_id = ?", strings.TrimSpace(holderID)).
		Order("share_class_id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("custody_repo_list_locks_failed", err,
			"holder_id", strings.TrimSpace(holderID),
		)
	}
	items := make([]entities.BalanceLock, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) GetFraction(ctx context.Context, fractionID string) (entities.FractionEntry, error) {
	var row fractionModel
	err := r.db.WithContext(ctx).
		Where("fraction_id = ?", strings.TrimSpace(fractionID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.FractionEntry{}, domainerrors.ErrFractionNotFound
		}
		return entities.FractionEntry{}, r.logError("custody_repo_get_fraction_failed", err,
			"fraction_id", strings.TrimSpace(fractionID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListFractions(ctx context.Context, limit int) ([]entities.FractionEntry, error) {
	tx := r.db.WithContext(ctx).Order("created_at ASC, fraction_id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []fractionModel
	if err := tx.Find(&rows).Error; err != nil {
		return nil, r.logError("custody_repo_list_fractions_failed", err, "limit", limit)
	}
	items := make([]entities.FractionEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) GetHolding(ctx context.Context, shareClassID string, holderID string) (ports.ShareHolding, bool, error) {
	var row holdingModel
	err := r.db.WithContext(ctx).
		Where("share_class_id = ?", strings.TrimSpace(shareClassID)).
		Where("holder_id = ?", strings.TrimSpace(holderID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.ShareHolding{}, false, nil
		}
		return ports.ShareHolding{}, false, r.logError("custody_repo_get_holding_failed", err,
			"share_class_id", strings.TrimSpace(shareClassID),
			"holder_id", strings.TrimSpace(holderID),
		)
	}
	return ports.ShareHolding{
		ShareClassID: row.ShareClassID,
		HolderID:     row.HolderID,
		Amount:       row.Amount,
		UpdatedAt:    row.UpdatedAt.UTC(),
	}, true, nil
}

func (r *Repository) GetTotalMinted(ctx context.Context, shareClassID string) (int64, bool, error) {
	var row supplyModel
	err := r.db.WithContext(ctx).
		Where("share_class_id = ?", strings.TrimSpace(shareClassID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, r.logError("custody_repo_get_total_minted_failed", err,
			"share_class_id", strings.TrimSpace(shareClassID),
		)
	}
	return row.TotalMinted, true, nil
}

func (r *Repository) UpsertHolding(ctx context.Context, holding ports.ShareHolding) error {
	row := holdingModel{
		ShareClassID: strings.TrimSpace(holding.ShareClassID),
		HolderID:     strings.TrimSpace(holding.HolderID),
		Amount:       holding.Amount,
		UpdatedAt:    holding.UpdatedAt.UTC(),
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "share_class_id"}, {Name: "holder_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"amount":     row.Amount,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
	if err != nil {
		return r.logError("custody_repo_upsert_holding_failed", err,
			"share_class_id", row.ShareClassID,
			"holder_id", row.HolderID,
		)
	}
	return nil
}

func (r *Repository) UpsertSupply(ctx context.Context, shareClassID string, totalMinted int64, updatedAt time.Time) error {
	row := supplyModel{
		ShareClassID: strings.TrimSpace(shareClassID),
		TotalMinted:  totalMinted,
		UpdatedAt:    updatedAt.UTC(),
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "share_class_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_minted": row.TotalMinted,
			"updated_at":   row.UpdatedAt,
		}),
	}).Create(&row).Error
	if err != nil {
		return r.logError("custody_repo_upsert_supply_failed", err,
			"share_class_id", row.ShareClassID,
		)
	}
	return nil
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
		return ports.IdempotencyRecord{}, false, r.logError("custody_repo_idempotency_get_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	if !row.ExpiresAt.IsZero() && now.UTC().After(row.ExpiresAt.UTC()) {
		if err := r.db.WithContext(ctx).
			Where("key = ?", strings.TrimSpace(key)).
			Delete(&idempotencyModel{}).Error; err != nil {
			return ports.IdempotencyRecord{}, false, r.logError("custody_repo_idempotency_expire_delete_failed", err,
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
		return r.logError("custody_repo_idempotency_put_failed", create.Error, "idempotency_key", row.Key)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing idempotencyModel
	if err := r.db.WithContext(ctx).
		Where("key = ?", row.Key).
		First(&existing).Error; err != nil {
		return r.logError("custody_repo_idempotency_load_existing_failed", err, "idempotency_key", row.Key)
	}
	if existing.RequestHash != row.RequestHash {
		return domainerrors.ErrIdempotencyConflict
	}
	return nil
}

func (r *Repository) NextEventSequence(ctx context.Context, eventType string) (uint64, error) {
	var nextValue int64
	err := r.db.WithContext(ctx).
		Raw(`INSERT INTO custody_event_sequences (event_type, next_value)
		     VALUES (?, 1)
		     ON CONFLICT (event_type)
		     DO UPDATE SET next_value = custody_event_sequences.next_value + 1
		     RETURNING next_value`, strings.TrimSpace(eventType)).
		Scan(&nextValue).
		Error
	if err != nil {
		return 0, r.logError("custody_repo_next_event_sequence_failed", err,
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
		return nil, r.logError("custody_repo_list_pending_outbox_failed", err, "limit", limit)
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
		return r.logError("custody_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("custody_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("custody_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrConflict
	}
	return true, nil
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
		"module", "asset-custody/share-custody-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("custody repository operation failed", fields...)
	return err
}

type lockModel struct {
	HolderID     string    `gorm:"column:holder_id;primaryKey"`
	ShareClassID string    `gorm:"column:share_class_id;primaryKey"`
	Amount       int64     `gorm:"column:amount"`
	UnlockAt     time.Time `gorm:"column:unlock_at"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (lockModel) TableName() string {
	return "custody_locks"
}

func (m lockModel) toEntity() entities.BalanceLock {
	return entities.BalanceLock{
		HolderID:     m.HolderID,
		ShareClassID: m.ShareClassID,
		Amount:       m.Amount,
		UnlockAt:     m.UnlockAt.UTC(),
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

type fractionModel struct {
	FractionID    string    `gorm:"column:fraction_id;primaryKey"`
	AssetID       string    `gorm:"column:asset_id"`
	TotalMinted   int64     `gorm:"column:total_minted"`
	TrackedAmount int64     `gorm:"column:tracked_amount"`
	NominalOwner  string    `gorm:"column:nominal_owner"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (fractionModel) TableName() string {
	return "custody_fractions"
}

func fractionModelFromEntity(fraction entities.FractionEntry) fractionModel {
	row := fractionModel{
		FractionID:    strings.TrimSpace(fraction.FractionID),
		AssetID:       strings.TrimSpace(fraction.AssetID),
		TotalMinted:   fraction.TotalMinted,
		TrackedAmount: fraction.TrackedAmount,
		NominalOwner:  strings.TrimSpace(fraction.NominalOwner),
		CreatedAt:     fraction.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row
}

func (m fractionModel) toEntity() entities.FractionEntry {
	return entities.FractionEntry{
		FractionID:    m.FractionID,
		AssetID:       m.AssetID,
		TotalMinted:   m.TotalMinted,
		TrackedAmount: m.TrackedAmount,
		NominalOwner:  m.NominalOwner,
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

type holdingModel struct {
	ShareClassID string    `gorm:"column:share_class_id;primaryKey"`
	HolderID     string    `gorm:"column:holder_id;primaryKey"`
	Amount       int64     `gorm:"column:amount"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (holdingModel) TableName() string {
	return "custody_share_holdings"
}

type supplyModel struct {
	ShareClassID string    `gorm:"column:share_class_id;primaryKey"`
	TotalMinted  int64     `gorm:"column:total_minted"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (supplyModel) TableName() string {
	return "custody_share_supply"
}

type idempotencyModel struct {
	Key             string    `gorm:"column:key;primaryKey"`
	Operation       string    `gorm:"column:operation"`
	RequestHash     string    `gorm:"column:request_hash"`
	ResponsePayload []byte    `gorm:"column:response_payload"`
	ExpiresAt       time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "custody_idempotency"
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
	return "custody_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "custody_event_dedup"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.CustodyRepository = (*Repository)(nil)
var _ ports.HoldingsProjection = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.EventSequences = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
