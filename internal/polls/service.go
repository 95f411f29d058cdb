package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pollhive/pollhive/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingIdentities = errors.New("identity resolver is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew    = "polls.service.new"
	opCreatePoll    = "polls.create_poll"
	opUpdatePoll    = "polls.update_poll"
	opDeletePoll    = "polls.delete_poll"
	opListPolls     = "polls.list_polls"
	opGetForEdit    = "polls.get_for_edit"
	opRecordVotes   = "polls.record_votes"
	opGetResults    = "polls.get_results"
	opResolveShared = "polls.resolve_share_token"
)

// IdentityResolver maps a voter email to a stable user record, creating
// one lazily when the email has not been seen before.
type IdentityResolver interface {
	ResolveOrCreate(ctx context.Context, email, name string) (users.User, error)
	ResolveAnonymous(ctx context.Context) (users.User, error)
}

// ServiceConfig describes the dependencies of the poll service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Identities IdentityResolver
	Logger     *zap.Logger
}

// Service owns poll, option, and vote records. All multi-row writes run in
// a single transaction so partial writes are never observable; the store's
// own constraints are the serialization point for concurrent duplicates.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	identities IdentityResolver
	logger     *zap.Logger
}

// NewService constructs the poll service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Identities == nil {
		return nil, newServiceError(opServiceNew, "missing_identities", errMissingIdentities)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		identities: cfg.Identities,
		logger:     logger,
	}, nil
}

// CreatePoll persists a new poll and its options atomically. It requires a
// title, a question, and at least two non-empty option texts; options keep
// the ordinal position of the input sequence. A fresh share token is
// generated alongside the poll identifier and is never regenerated.
func (s *Service) CreatePoll(ctx context.Context, ownerID string, fields PollFields, optionTexts []string) (CreatedPoll, error) {
	if strings.TrimSpace(ownerID) == "" {
		return CreatedPoll{}, newServiceError(opCreatePoll, "missing_owner", ErrValidation)
	}
	normalized, err := normalizeFields(opCreatePoll, fields)
	if err != nil {
		return CreatedPoll{}, err
	}
	texts, err := normalizeOptionTexts(opCreatePoll, optionTexts)
	if err != nil {
		return CreatedPoll{}, err
	}

	pollID, err := s.idProvider.NewID()
	if err != nil {
		return CreatedPoll{}, newServiceError(opCreatePoll, "id_generation_failed", err)
	}
	shareToken, err := s.idProvider.NewID()
	if err != nil {
		return CreatedPoll{}, newServiceError(opCreatePoll, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	poll := Poll{
		ID:                 pollID,
		Title:              normalized.Title,
		Question:           normalized.Question,
		Description:        normalized.Description,
		Status:             normalized.Status,
		AllowMultipleVotes: normalized.AllowMultipleVotes,
		MaxVotesPerOption:  normalized.MaxVotesPerOption,
		OwnerID:            ownerID,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          normalized.ExpiresAt,
		IsPublic:           normalized.IsPublic,
		ShareToken:         shareToken,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&poll).Error; err != nil {
			return newServiceError(opCreatePoll, "poll_insert_failed", err)
		}
		options, err := s.buildOptions(pollID, texts, now)
		if err != nil {
			return newServiceError(opCreatePoll, "id_generation_failed", err)
		}
		if err := tx.Create(&options).Error; err != nil {
			return newServiceError(opCreatePoll, "option_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreatePoll, "transaction_failed", txErr, zap.String("owner_id", ownerID))
		return CreatedPoll{}, txErr
	}

	return CreatedPoll{PollID: pollID, ShareToken: shareToken}, nil
}

// UpdatePoll overwrites all mutable poll fields and replaces the entire
// option set atomically. Replacement is delete-then-reinsert rather than
// per-option diffing, so votes against the previous options are removed in
// the same transaction (votes cascade with their option). A missing poll
// and a non-owner are reported identically as ErrNotOwner.
func (s *Service) UpdatePoll(ctx context.Context, pollID, ownerID string, fields PollFields, optionTexts []string) error {
	if strings.TrimSpace(pollID) == "" || strings.TrimSpace(ownerID) == "" {
		return newServiceError(opUpdatePoll, "missing_identifier", ErrValidation)
	}
	normalized, err := normalizeFields(opUpdatePoll, fields)
	if err != nil {
		return err
	}
	texts, err := normalizeOptionTexts(opUpdatePoll, optionTexts)
	if err != nil {
		return err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Poll
		err := tx.Where("id = ? AND created_by = ?", pollID, ownerID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdatePoll, "not_owner", ErrNotOwner)
		}
		if err != nil {
			return newServiceError(opUpdatePoll, "poll_select_failed", err)
		}

		now := s.clock().UTC()
		updates := map[string]interface{}{
			"title":                normalized.Title,
			"question":             normalized.Question,
			"description":          normalized.Description,
			"status":               normalized.Status,
			"allow_multiple_votes": normalized.AllowMultipleVotes,
			"max_votes_per_option": normalized.MaxVotesPerOption,
			"expires_at":           normalized.ExpiresAt,
			"is_public":            normalized.IsPublic,
			"updated_at":           now,
		}
		if err := tx.Model(&Poll{}).Where("id = ?", pollID).Updates(updates).Error; err != nil {
			return newServiceError(opUpdatePoll, "poll_update_failed", err)
		}

		if err := tx.Where("poll_id = ?", pollID).Delete(&Vote{}).Error; err != nil {
			return newServiceError(opUpdatePoll, "vote_delete_failed", err)
		}
		if err := tx.Where("poll_id = ?", pollID).Delete(&PollOption{}).Error; err != nil {
			return newServiceError(opUpdatePoll, "option_delete_failed", err)
		}
		options, err := s.buildOptions(pollID, texts, now)
		if err != nil {
			return newServiceError(opUpdatePoll, "id_generation_failed", err)
		}
		if err := tx.Create(&options).Error; err != nil {
			return newServiceError(opUpdatePoll, "option_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrNotOwner) {
			s.logError(opUpdatePoll, "transaction_failed", txErr, zap.String("poll_id", pollID))
		}
		return txErr
	}
	return nil
}

// DeletePoll removes the poll together with all its options and votes in
// one transaction. Ownership is checked under the same condition as update.
func (s *Service) DeletePoll(ctx context.Context, pollID, ownerID string) error {
	if strings.TrimSpace(pollID) == "" || strings.TrimSpace(ownerID) == "" {
		return newServiceError(opDeletePoll, "missing_identifier", ErrValidation)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Poll
		err := tx.Where("id = ? AND created_by = ?", pollID, ownerID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDeletePoll, "not_owner", ErrNotOwner)
		}
		if err != nil {
			return newServiceError(opDeletePoll, "poll_select_failed", err)
		}

		if err := tx.Where("poll_id = ?", pollID).Delete(&Vote{}).Error; err != nil {
			return newServiceError(opDeletePoll, "vote_delete_failed", err)
		}
		if err := tx.Where("poll_id = ?", pollID).Delete(&PollOption{}).Error; err != nil {
			return newServiceError(opDeletePoll, "option_delete_failed", err)
		}
		if err := tx.Where("id = ?", pollID).Delete(&Poll{}).Error; err != nil {
			return newServiceError(opDeletePoll, "poll_delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrNotOwner) {
			s.logError(opDeletePoll, "transaction_failed", txErr, zap.String("poll_id", pollID))
		}
		return txErr
	}
	return nil
}

// ListPollsForOwner returns all polls owned by the user, newest first,
// each annotated with its option count and total vote count.
func (s *Service) ListPollsForOwner(ctx context.Context, ownerID string) ([]PollSummary, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, newServiceError(opListPolls, "missing_owner", ErrValidation)
	}

	var owned []Poll
	if err := s.db.WithContext(ctx).
		Where("created_by = ?", ownerID).
		Order("created_at DESC").
		Find(&owned).Error; err != nil {
		s.logError(opListPolls, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, newServiceError(opListPolls, "query_failed", err)
	}
	if len(owned) == 0 {
		return []PollSummary{}, nil
	}

	pollIDs := make([]string, 0, len(owned))
	for _, poll := range owned {
		pollIDs = append(pollIDs, poll.ID)
	}

	optionCounts, err := s.countByPoll(ctx, &PollOption{}, pollIDs)
	if err != nil {
		s.logError(opListPolls, "option_count_failed", err, zap.String("owner_id", ownerID))
		return nil, newServiceError(opListPolls, "option_count_failed", err)
	}
	voteCounts, err := s.countByPoll(ctx, &Vote{}, pollIDs)
	if err != nil {
		s.logError(opListPolls, "vote_count_failed", err, zap.String("owner_id", ownerID))
		return nil, newServiceError(opListPolls, "vote_count_failed", err)
	}

	summaries := make([]PollSummary, 0, len(owned))
	for _, poll := range owned {
		summaries = append(summaries, PollSummary{
			Poll:        poll,
			OptionCount: optionCounts[poll.ID],
			TotalVotes:  voteCounts[poll.ID],
		})
	}
	return summaries, nil
}

// GetPollForEdit returns the poll with its ordered options only when the
// requesting user owns it. Non-ownership is indistinguishable from
// non-existence so other users' polls cannot be probed.
func (s *Service) GetPollForEdit(ctx context.Context, pollID, ownerID string) (PollWithOptions, error) {
	if strings.TrimSpace(pollID) == "" || strings.TrimSpace(ownerID) == "" {
		return PollWithOptions{}, newServiceError(opGetForEdit, "missing_identifier", ErrValidation)
	}

	var poll Poll
	err := s.db.WithContext(ctx).
		Where("id = ? AND created_by = ?", pollID, ownerID).
		Take(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PollWithOptions{}, newServiceError(opGetForEdit, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opGetForEdit, "poll_select_failed", err, zap.String("poll_id", pollID))
		return PollWithOptions{}, newServiceError(opGetForEdit, "poll_select_failed", err)
	}

	options, err := s.orderedOptions(ctx, pollID)
	if err != nil {
		s.logError(opGetForEdit, "option_select_failed", err, zap.String("poll_id", pollID))
		return PollWithOptions{}, newServiceError(opGetForEdit, "option_select_failed", err)
	}

	return PollWithOptions{Poll: poll, Options: options}, nil
}

func (s *Service) buildOptions(pollID string, texts []string, now time.Time) ([]PollOption, error) {
	options := make([]PollOption, 0, len(texts))
	for position, text := range texts {
		optionID, err := s.idProvider.NewID()
		if err != nil {
			return nil, err
		}
		options = append(options, PollOption{
			ID:        optionID,
			PollID:    pollID,
			Text:      text,
			Position:  position,
			CreatedAt: now,
		})
	}
	return options, nil
}

func (s *Service) orderedOptions(ctx context.Context, pollID string) ([]PollOption, error) {
	var options []PollOption
	err := s.db.WithContext(ctx).
		Where("poll_id = ?", pollID).
		Order("option_order ASC").
		Find(&options).Error
	if err != nil {
		return nil, err
	}
	return options, nil
}

type pollCountRow struct {
	PollID string
	Total  int64
}

func (s *Service) countByPoll(ctx context.Context, model interface{}, pollIDs []string) (map[string]int64, error) {
	var rows []pollCountRow
	err := s.db.WithContext(ctx).
		Model(model).
		Select("poll_id AS poll_id, COUNT(*) AS total").
		Where("poll_id IN ?", pollIDs).
		Group("poll_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.PollID] = row.Total
	}
	return counts, nil
}

func normalizeFields(operation string, fields PollFields) (PollFields, error) {
	fields.Title = strings.TrimSpace(fields.Title)
	fields.Question = strings.TrimSpace(fields.Question)
	fields.Description = strings.TrimSpace(fields.Description)
	if fields.Title == "" {
		return PollFields{}, newServiceError(operation, "missing_title", ErrValidation)
	}
	if fields.Question == "" {
		return PollFields{}, newServiceError(operation, "missing_question", ErrValidation)
	}
	if fields.Status == "" {
		fields.Status = StatusActive
	}
	if !fields.Status.Valid() {
		return PollFields{}, newServiceError(operation, "invalid_status", ErrValidation)
	}
	if fields.MaxVotesPerOption <= 0 {
		fields.MaxVotesPerOption = 1
	}
	return fields, nil
}

func normalizeOptionTexts(operation string, optionTexts []string) ([]string, error) {
	texts := make([]string, 0, len(optionTexts))
	for _, text := range optionTexts {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		texts = append(texts, trimmed)
	}
	if len(texts) < 2 {
		return nil, newServiceError(operation, "insufficient_options", fmt.Errorf("%w: at least two options required", ErrValidation))
	}
	return texts, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("poll service error", attrs...)
}
