package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
	"agora/contexts/governance/proposal-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"

	fractionUniqueConstraint = "governance_proposals_fraction_uq"
	voterUniqueConstraint    = "governance_votes_voter_uq"
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

func (r *Repository) NextProposalID(ctx context.Context) (uint64, error) {
	var reserved int64
	err := r.db.WithContext(ctx).
		Raw(`UPDATE governance_proposal_sequence
		     SET next_value = next_value + 1
		     WHERE id = 1
		     RETURNING next_value - 1`).
		Scan(&reserved).
		Error
	if err != nil {
		return 0, r.logError("governance_repo_next_proposal_id_failed", err)
	}
	if reserved <= 0 {
		return 0, r.logError("governance_repo_next_proposal_id_failed", domainerrors.ErrConflict)
	}
	return uint64(reserved), nil
}

func (r *Repository) CreateProposal(ctx context.Context, input ports.CreateProposalInput) error {
	proposal := input.Proposal
	row := proposalModelFromEntity(proposal)
	options := optionRowsFromEntity(proposal)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolationOn(err, fractionUniqueConstraint) {
				return domainerrors.ErrFractionAlreadyLinked
			}
			if isUniqueViolation(err) {
				return domainerrors.ErrConflict
			}
			return err
		}
		if len(options) > 0 {
			if err := tx.Create(&options).Error; err != nil {
				return err
			}
		}
		return appendOutboxTx(tx, input.Envelope)
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrFractionAlreadyLinked) || errors.Is(err, domainerrors.ErrConflict) {
			return err
		}
		return r.logError("governance_repo_create_proposal_failed", err,
			"proposal_id", proposal.ProposalID,
		)
	}
	return nil
}

func (r *Repository) OpenVoting(ctx context.Context, input ports.OpenVotingInput) error {
	startsAt := input.VotingStartsAt.UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&proposalModel{}).
			Where("proposal_id = ?", input.ProposalID).
			Where("voting_starts_at IS NULL").
			Update("voting_starts_at", startsAt)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&proposalModel{}).
				Where("proposal_id = ?", input.ProposalID).
				Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return domainerrors.ErrProposalNotFound
			}
			return domainerrors.ErrInvalidWindow
		}
		return appendOutboxTx(tx, input.Envelope)
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrProposalNotFound) || errors.Is(err, domainerrors.ErrInvalidWindow) {
			return err
		}
		return r.logError("governance_repo_open_voting_failed", err,
			"proposal_id", input.ProposalID,
		)
	}
	return nil
}

func (r *Repository) AppendVote(ctx context.Context, input ports.AppendVoteInput) error {
	vote := input.Vote
	row := voteModelFromEntity(vote)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var proposal proposalModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("proposal_id = ?", vote.ProposalID).
			First(&proposal).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrProposalNotFound
			}
			return err
		}
		if proposal.Finalized {
			return domainerrors.ErrVotingClosed
		}

		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolationOn(err, voterUniqueConstraint) {
				return domainerrors.ErrAlreadyVoted
			}
			if isUniqueViolation(err) {
				return domainerrors.ErrConflict
			}
			return err
		}

		tally := tallyModel{
			ProposalID: int64(vote.ProposalID),
			OptionName: strings.TrimSpace(vote.Choice),
			Weight:     vote.Weight,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "proposal_id"}, {Name: "option_name"}},
			DoUpdates: clause.Assignments(map[string]any{
				"weight": gorm.Expr("governance_tallies.weight + ?", vote.Weight),
			}),
		}).Create(&tally).Error; err != nil {
			return err
		}
		return appendOutboxTx(tx, input.Envelope)
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrProposalNotFound) ||
			errors.Is(err, domainerrors.ErrVotingClosed) ||
			errors.Is(err, domainerrors.ErrAlreadyVoted) ||
			errors.Is(err, domainerrors.ErrConflict) {
			return err
		}
		return r.logError("governance_repo_append_vote_failed", err,
			"proposal_id", vote.ProposalID,
			"voter_id", strings.TrimSpace(vote.VoterID),
		)
	}
	return nil
}

func (r *Repository) FinalizeProposal(ctx context.Context, input ports.FinalizeProposalInput) error {
	finalizedAt := input.FinalizedAt.UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&proposalModel{}).
			Where("proposal_id = ?", input.ProposalID).
			Where("finalized = ?", false).
			Updates(map[string]any{
				"finalized":        true,
				"finalized_at":     finalizedAt,
				"final_yes_weight": input.YesWeight,
				"final_no_weight":  input.NoWeight,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&proposalModel{}).
				Where("proposal_id = ?", input.ProposalID).
				Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return domainerrors.ErrProposalNotFound
			}
			return domainerrors.ErrAlreadyFinalized
		}
		return appendOutboxTx(tx, input.Envelope)
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrProposalNotFound) || errors.Is(err, domainerrors.ErrAlreadyFinalized) {
			return err
		}
		return r.logError("governance_repo_finalize_proposal_failed", err,
			"proposal_id", input.ProposalID,
		)
	}
	return nil
}

func (r *Repository) GetProposal(ctx context.Context, proposalID uint64) (entities.Proposal, error) {
	var row proposalModel
	err := r.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Proposal{}, domainerrors.ErrProposalNotFound
		}
		return entities.Proposal{}, r.logError("governance_repo_get_proposal_failed", err,
			"proposal_id", proposalID,
		)
	}
	options, err := r.listOptions(ctx, proposalID)
	if err != nil {
		return entities.Proposal{}, err
	}
	return row.toEntity(options), nil
}

func (r *Repository) GetProposalByFraction(ctx context.Context, fractionID string) (entities.Proposal, error) {
	fractionID = strings.TrimSpace(fractionID)
	var row proposalModel
	err := r.db.WithContext(ctx).
		Where("fraction_id = ?", fractionID).
		Where("fraction_id <> ''").
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Proposal{}, domainerrors.ErrFractionPollNotFound
		}
		return entities.Proposal{}, r.logError("governance_repo_get_proposal_by_fraction_failed", err,
			"fraction_id", fractionID,
		)
	}
	options, err := r.listOptions(ctx, uint64(row.ProposalID))
	if err != nil {
		return entities.Proposal{}, err
	}
	return row.toEntity(options), nil
}

func (r *Repository) ListProposals(ctx context.Context, limit int) ([]entities.Proposal, error) {
	tx := r.db.WithContext(ctx).Order("proposal_id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []proposalModel
	if err := tx.Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_proposals_failed", err, "limit", limit)
	}

	items := make([]entities.Proposal, 0, len(rows))
	for _, row := range rows {
		options, err := r.listOptions(ctx, uint64(row.ProposalID))
		if err != nil {
			return nil, err
		}
		items = append(items, row.toEntity(options))
	}
	return items, nil
}

func (r *Repository) CountProposals(ctx context.Context) (uint64, error) {
	var nextValue int64
	err := r.db.WithContext(ctx).
		Raw(`SELECT next_value FROM governance_proposal_sequence WHERE id = 1`).
		Scan(&nextValue).
		Error
	if err != nil {
		return 0, r.logError("governance_repo_count_proposals_failed", err)
	}
	if nextValue <= 1 {
		return 0, nil
	}
	return uint64(nextValue - 1), nil
}

func (r *Repository) GetVote(ctx context.Context, proposalID uint64, voterID string) (entities.VoteRecord, bool, error) {
	var row voteModel
	err := r.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Where("voter_id = ?", strings.TrimSpace(voterID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.VoteRecord{}, false, nil
		}
		return entities.VoteRecord{}, false, r.logError("governance_repo_get_vote_failed", err,
			"proposal_id", proposalID,
			"voter_id", strings.TrimSpace(voterID),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) GetTally(ctx context.Context, proposalID uint64, option string) (int64, error) {
	var row tallyModel
	err := r.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Where("option_name = ?", strings.TrimSpace(option)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, r.logError("governance_repo_get_tally_failed", err,
			"proposal_id", proposalID,
			"option", strings.TrimSpace(option),
		)
	}
	return row.Weight, nil
}

func (r *Repository) ListTallies(ctx context.Context, proposalID uint64) ([]entities.TallyEntry, error) {
	var rows []tallyModel
	if err := r.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Order("option_name ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_tallies_failed", err, "proposal_id", proposalID)
	}
	entries := make([]entities.TallyEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entities.TallyEntry{Option: row.OptionName, Weight: row.Weight})
	}
	return entries, nil
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
		return ports.ShareHolding{}, false, r.logError("governance_repo_get_holding_failed", err,
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
		return 0, false, r.logError("governance_repo_get_total_minted_failed", err,
			"share_class_id", strings.TrimSpace(shareClassID),
		)
	}
	return row.TotalMinted, true, nil
}

func (r *Repository) CountHolders(ctx context.Context, shareClassID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&holdingModel{}).
		Where("share_class_id = ?", strings.TrimSpace(shareClassID)).
		Where("amount > 0").
		Count(&count).
		Error
	if err != nil {
		return 0, r.logError("governance_repo_count_holders_failed", err,
			"share_class_id", strings.TrimSpace(shareClassID),
		)
	}
	return count, nil
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
		return r.logError("governance_repo_upsert_holding_failed", err,
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
		return r.logError("governance_repo_upsert_supply_failed", err,
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
		return ports.IdempotencyRecord{}, false, r.logError("governance_repo_idempotency_get_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	if !row.ExpiresAt.IsZero() && now.UTC().After(row.ExpiresAt.UTC()) {
		if err := r.db.WithContext(ctx).
			Where("key = ?", strings.TrimSpace(key)).
			Delete(&idempotencyModel{}).Error; err != nil {
			return ports.IdempotencyRecord{}, false, r.logError("governance_repo_idempotency_expire_delete_failed", err,
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
		return r.logError("governance_repo_idempotency_put_failed", create.Error, "idempotency_key", row.Key)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing idempotencyModel
	if err := r.db.WithContext(ctx).
		Where("key = ?", row.Key).
		First(&existing).Error; err != nil {
		return r.logError("governance_repo_idempotency_load_existing_failed", err, "idempotency_key", row.Key)
	}
	if existing.RequestHash != row.RequestHash {
		return domainerrors.ErrIdempotencyConflict
	}
	return nil
}

func (r *Repository) NextEventSequence(ctx context.Context, eventType string) (uint64, error) {
	var nextValue int64
	err := r.db.WithContext(ctx).
		Raw(`INSERT INTO governance_event_sequences (event_type, next_value)
		     VALUES (?, 1)
		     ON CONFLICT (event_type)
		     DO UPDATE SET next_value = governance_event_sequences.next_value + 1
		     RETURNING next_value`, strings.TrimSpace(eventType)).
		Scan(&nextValue).
		Error
	if err != nil {
		return 0, r.logError("governance_repo_next_event_sequence_failed", err,
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
		return nil, r.logError("governance_repo_list_pending_outbox_failed", err, "limit", limit)
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
		return r.logError("governance_repo_mark_outbox_published_failed", result.Error,
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
		return false, r.logError("governance_repo_reserve_event_failed", create.Error,
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
		return false, r.logError("governance_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrConflict
	}
	return true, nil
}

func (r *Repository) listOptions(ctx context.Context, proposalID uint64) ([]string, error) {
	var rows []proposalOptionModel
	if err := r.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("governance_repo_list_options_failed", err, "proposal_id", proposalID)
	}
	options := make([]string, 0, len(rows))
	for _, row := range rows {
		options = append(options, row.OptionName)
	}
	return options, nil
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
		"module", "governance/proposal-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("governance repository operation failed", fields...)
	return err
}

type proposalModel struct {
	ProposalID     int64      `gorm:"column:proposal_id;primaryKey"`
	Title          string     `gorm:"column:title"`
	Description    string     `gorm:"column:description"`
	CreatorID      string     `gorm:"column:creator_id"`
	ShareClassID   string     `gorm:"column:share_class_id"`
	WeightMode     string     `gorm:"column:weight_mode"`
	SupplyBaseline int64      `gorm:"column:supply_baseline"`
	FractionID     string     `gorm:"column:fraction_id"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	VotingStartsAt *time.Time `gorm:"column:voting_starts_at"`
	Deadline       time.Time  `gorm:"column:deadline"`
	Finalized      bool       `gorm:"column:finalized"`
	FinalizedAt    *time.Time `gorm:"column:finalized_at"`
	FinalYesWeight int64      `gorm:"column:final_yes_weight"`
	FinalNoWeight  int64      `gorm:"column:final_no_weight"`
}

func (proposalModel) TableName() string {
	return "governance_proposals"
}

func proposalModelFromEntity(proposal entities.Proposal) proposalModel {
	return proposalModel{
		ProposalID:     int64(proposal.ProposalID),
		Title:          strings.TrimSpace(proposal.Title),
		Description:    proposal.Description,
		CreatorID:      strings.TrimSpace(proposal.CreatorID),
		ShareClassID:   strings.TrimSpace(proposal.ShareClassID),
		WeightMode:     string(proposal.WeightMode),
		SupplyBaseline: proposal.SupplyBaseline,
		FractionID:     strings.TrimSpace(proposal.FractionID),
		CreatedAt:      proposal.CreatedAt.UTC(),
		VotingStartsAt: normalizeOptionalTime(proposal.VotingStartsAt),
		Deadline:       proposal.Deadline.UTC(),
		Finalized:      proposal.Finalized,
		FinalizedAt:    normalizeOptionalTime(proposal.FinalizedAt),
		FinalYesWeight: proposal.FinalYesWeight,
		FinalNoWeight:  proposal.FinalNoWeight,
	}
}

func (m proposalModel) toEntity(options []string) entities.Proposal {
	return entities.Proposal{
		ProposalID:     uint64(m.ProposalID),
		Title:          m.Title,
		Description:    m.Description,
		CreatorID:      m.CreatorID,
		ShareClassID:   m.ShareClassID,
		WeightMode:     entities.WeightMode(m.WeightMode),
		Options:        options,
		SupplyBaseline: m.SupplyBaseline,
		FractionID:     m.FractionID,
		CreatedAt:      m.CreatedAt.UTC(),
		VotingStartsAt: normalizeOptionalTime(m.VotingStartsAt),
		Deadline:       m.Deadline.UTC(),
		Finalized:      m.Finalized,
		FinalizedAt:    normalizeOptionalTime(m.FinalizedAt),
		FinalYesWeight: m.FinalYesWeight,
		FinalNoWeight:  m.FinalNoWeight,
	}
}

type proposalOptionModel struct {
	ProposalID int64  `gorm:"column:proposal_id;primaryKey"`
	Position   int    `gorm:"column:position;primaryKey"`
	OptionName string `gorm:"column:option_name"`
}

func (proposalOptionModel) TableName() string {
	return "governance_proposal_options"
}

func optionRowsFromEntity(proposal entities.Proposal) []proposalOptionModel {
	rows := make([]proposalOptionModel, 0, len(proposal.Options))
	for position, option := range proposal.Options {
		rows = append(rows, proposalOptionModel{
			ProposalID: int64(proposal.ProposalID),
			Position:   position,
			OptionName: strings.TrimSpace(option),
		})
	}
	return rows
}

type voteModel struct {
	VoteID     string    `gorm:"column:vote_id;primaryKey"`
	ProposalID int64     `gorm:"column:proposal_id"`
	VoterID    string    `gorm:"column:voter_id"`
	Choice     string    `gorm:"column:choice"`
	Weight     int64     `gorm:"column:weight"`
	CastAt     time.Time `gorm:"column:cast_at"`
}

func (voteModel) TableName() string {
	return "governance_votes"
}

func voteModelFromEntity(vote entities.VoteRecord) voteModel {
	row := voteModel{
		VoteID:     strings.TrimSpace(vote.VoteID),
		ProposalID: int64(vote.ProposalID),
		VoterID:    strings.TrimSpace(vote.VoterID),
		Choice:     strings.TrimSpace(vote.Choice),
		Weight:     vote.Weight,
		CastAt:     vote.CastAt.UTC(),
	}
	if row.CastAt.IsZero() {
		row.CastAt = time.Now().UTC()
	}
	return row
}

func (m voteModel) toEntity() entities.VoteRecord {
	return entities.VoteRecord{
		VoteID:     m.VoteID,
		ProposalID: uint64(m.ProposalID),
		VoterID:    m.VoterID,
		Choice:     m.Choice,
		Weight:     m.Weight,
		CastAt:     m.CastAt.UTC(),
	}
}

type tallyModel struct {
	ProposalID int64  `gorm:"column:proposal_id;primaryKey"`
	OptionName string `gorm:"column:option_name;primaryKey"`
	Weight     int64  `gorm:"column:weight"`
}

func (tallyModel) TableName() string {
	return "governance_tallies"
}

type holdingModel struct {
	ShareClassID string    `gorm:"column:share_class_id;primaryKey"`
	HolderID     string    `gorm:"column:holder_id;primaryKey"`
	Amount       int64     `gorm:"column:amount"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (holdingModel) TableName() string {
	return "governance_share_holdings"
}

type supplyModel struct {
	ShareClassID string    `gorm:"column:share_class_id;primaryKey"`
	TotalMinted  int64     `gorm:"column:total_minted"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (supplyModel) TableName() string {
	return "governance_share_supply"
}

type idempotencyModel struct {
	Key             string    `gorm:"column:key;primaryKey"`
	Operation       string    `gorm:"column:operation"`
	RequestHash     string    `gorm:"column:request_hash"`
	ResponsePayload []byte    `gorm:"column:response_payload"`
	ExpiresAt       time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "governance_idempotency"
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
	return "governance_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "governance_event_dedup"
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isUniqueViolationOn(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

var _ ports.ProposalRepository = (*Repository)(nil)
var _ ports.HoldingsProjection = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.EventSequences = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
