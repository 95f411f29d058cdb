package polls

import (
	"context"
	"errors"
	"strings"

	"github.com/pollhive/pollhive/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecordVotes validates and persists one vote row per selected option in a
// single transaction. The voter identity is resolved from the email/name
// pair; a submission without an email resolves to the shared anonymous
// placeholder identity, so repeated anonymous votes for the same option
// collide just like named duplicates. If any row violates a uniqueness
// constraint the whole submission fails with ErrDuplicateVote and nothing
// is recorded.
//
// max_votes_per_option is advisory at this layer: the per-voter uniqueness
// constraint already caps a voter at one vote per option. Single-choice
// polls (allow_multiple_votes false) reject submissions selecting more
// than one option.
func (s *Service) RecordVotes(ctx context.Context, pollID string, optionIDs []string, voterEmail, voterName string) ([]Vote, error) {
	if strings.TrimSpace(pollID) == "" {
		return nil, newServiceError(opRecordVotes, "missing_poll_id", ErrValidation)
	}
	selected := make([]string, 0, len(optionIDs))
	for _, optionID := range optionIDs {
		trimmed := strings.TrimSpace(optionID)
		if trimmed == "" {
			continue
		}
		selected = append(selected, trimmed)
	}
	if len(selected) == 0 {
		return nil, newServiceError(opRecordVotes, "no_options_selected", ErrValidation)
	}

	var poll Poll
	err := s.db.WithContext(ctx).Where("id = ?", pollID).Take(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opRecordVotes, "poll_not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opRecordVotes, "poll_select_failed", err, zap.String("poll_id", pollID))
		return nil, newServiceError(opRecordVotes, "poll_select_failed", err)
	}
	if !poll.AllowMultipleVotes && len(selected) > 1 {
		return nil, newServiceError(opRecordVotes, "multiple_votes_not_allowed", ErrValidation)
	}

	voter, err := s.resolveVoter(ctx, voterEmail, voterName)
	if err != nil {
		s.logError(opRecordVotes, "voter_resolution_failed", err, zap.String("poll_id", pollID))
		return nil, newServiceError(opRecordVotes, "voter_resolution_failed", err)
	}

	var storedEmail, storedName *string
	if trimmed := strings.TrimSpace(voterEmail); trimmed != "" {
		storedEmail = &trimmed
	}
	if trimmed := strings.TrimSpace(voterName); trimmed != "" {
		storedName = &trimmed
	}

	now := s.clock().UTC()
	votes := make([]Vote, 0, len(selected))
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var known int64
		if err := tx.Model(&PollOption{}).
			Where("poll_id = ? AND id IN ?", pollID, selected).
			Count(&known).Error; err != nil {
			return newServiceError(opRecordVotes, "option_select_failed", err)
		}
		if known != int64(len(selected)) {
			return newServiceError(opRecordVotes, "unknown_option", ErrNotFound)
		}

		for _, optionID := range selected {
			voteID, err := s.idProvider.NewID()
			if err != nil {
				return newServiceError(opRecordVotes, "id_generation_failed", err)
			}
			vote := Vote{
				ID:         voteID,
				PollID:     pollID,
				OptionID:   optionID,
				VoterID:    voter.ID,
				VoterEmail: storedEmail,
				VoterName:  storedName,
				CreatedAt:  now,
			}
			if err := tx.Create(&vote).Error; err != nil {
				if isUniqueViolation(err) {
					return newServiceError(opRecordVotes, "duplicate_vote", ErrDuplicateVote)
				}
				return newServiceError(opRecordVotes, "vote_insert_failed", err)
			}
			votes = append(votes, vote)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrDuplicateVote) && !errors.Is(txErr, ErrNotFound) {
			s.logError(opRecordVotes, "transaction_failed", txErr, zap.String("poll_id", pollID))
		}
		return nil, txErr
	}

	return votes, nil
}

func (s *Service) resolveVoter(ctx context.Context, voterEmail, voterName string) (users.User, error) {
	if strings.TrimSpace(voterEmail) == "" {
		return s.identities.ResolveAnonymous(ctx)
	}
	return s.identities.ResolveOrCreate(ctx, voterEmail, voterName)
}

// isUniqueViolation recognizes unique-index failures both through gorm's
// translated sentinel and the raw sqlite error text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}
