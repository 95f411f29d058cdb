package polls

import (
	"context"
	"errors"
	"math"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GetPollWithResults computes the tally for a poll: per-option vote counts,
// each count's percentage of the poll's total votes rounded to two
// decimals, and the total itself. Results are recomputed on every read and
// reflect the latest committed votes; options come back in ordinal order.
func (s *Service) GetPollWithResults(ctx context.Context, pollID string) (PollResults, error) {
	if strings.TrimSpace(pollID) == "" {
		return PollResults{}, newServiceError(opGetResults, "missing_poll_id", ErrValidation)
	}

	var poll Poll
	err := s.db.WithContext(ctx).Where("id = ?", pollID).Take(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PollResults{}, newServiceError(opGetResults, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opGetResults, "poll_select_failed", err, zap.String("poll_id", pollID))
		return PollResults{}, newServiceError(opGetResults, "poll_select_failed", err)
	}

	options, err := s.orderedOptions(ctx, pollID)
	if err != nil {
		s.logError(opGetResults, "option_select_failed", err, zap.String("poll_id", pollID))
		return PollResults{}, newServiceError(opGetResults, "option_select_failed", err)
	}

	countsByOption, err := s.voteCountsByOption(ctx, pollID)
	if err != nil {
		s.logError(opGetResults, "vote_count_failed", err, zap.String("poll_id", pollID))
		return PollResults{}, newServiceError(opGetResults, "vote_count_failed", err)
	}

	var totalVotes int64
	for _, count := range countsByOption {
		totalVotes += count
	}

	results := PollResults{
		Poll:       poll,
		Options:    make([]OptionResult, 0, len(options)),
		TotalVotes: totalVotes,
	}
	for _, option := range options {
		count := countsByOption[option.ID]
		results.Options = append(results.Options, OptionResult{
			OptionID:       option.ID,
			Text:           option.Text,
			Position:       option.Position,
			VoteCount:      count,
			VotePercentage: percentage(count, totalVotes),
		})
	}
	return results, nil
}

// GetPollByShareToken resolves a poll by its opaque public token. A private
// poll's token resolves to nothing even when guessed correctly, and the
// result carries the ordered options without tallies; callers fetch
// results separately when needed.
func (s *Service) GetPollByShareToken(ctx context.Context, token string) (PollWithOptions, error) {
	if strings.TrimSpace(token) == "" {
		return PollWithOptions{}, newServiceError(opResolveShared, "missing_token", ErrValidation)
	}

	var poll Poll
	err := s.db.WithContext(ctx).
		Where("share_token = ? AND is_public = ?", token, true).
		Take(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PollWithOptions{}, newServiceError(opResolveShared, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opResolveShared, "poll_select_failed", err)
		return PollWithOptions{}, newServiceError(opResolveShared, "poll_select_failed", err)
	}

	options, err := s.orderedOptions(ctx, poll.ID)
	if err != nil {
		s.logError(opResolveShared, "option_select_failed", err, zap.String("poll_id", poll.ID))
		return PollWithOptions{}, newServiceError(opResolveShared, "option_select_failed", err)
	}

	return PollWithOptions{Poll: poll, Options: options}, nil
}

type optionCountRow struct {
	OptionID string
	Total    int64
}

func (s *Service) voteCountsByOption(ctx context.Context, pollID string) (map[string]int64, error) {
	var rows []optionCountRow
	err := s.db.WithContext(ctx).
		Model(&Vote{}).
		Select("option_id AS option_id, COUNT(*) AS total").
		Where("poll_id = ?", pollID).
		Group("option_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.OptionID] = row.Total
	}
	return counts, nil
}

// percentage returns count/total as a percentage rounded to two decimals,
// or 0 when no votes exist.
func percentage(count, total int64) float64 {
	if total <= 0 {
		return 0
	}
	value := float64(count) * 100 / float64(total)
	return math.Round(value*100) / 100
}
