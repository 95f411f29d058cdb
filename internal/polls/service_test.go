package polls

import (
	"context"
	"errors"
	"testing"
)

func TestCreatePollPersistsOptionsInOrder(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustOwner(t, "a@x.com")

	created, err := env.service.CreatePoll(context.Background(), owner.ID, PollFields{
		Title:    "Lunch",
		Question: "Where to eat?",
		IsPublic: true,
	}, []string{"Pizza", "Sushi", "Tacos"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.PollID == "" || created.ShareToken == "" {
		t.Fatalf("expected non-empty poll id and share token, got %+v", created)
	}

	result, err := env.service.GetPollForEdit(context.Background(), created.PollID, owner.ID)
	if err != nil {
		t.Fatalf("get for edit failed: %v", err)
	}
	if result.Poll.Status != StatusActive {
		t.Fatalf("expected default status active, got %q", result.Poll.Status)
	}
	if result.Poll.MaxVotesPerOption != 1 {
		t.Fatalf("expected default max votes per option 1, got %d", result.Poll.MaxVotesPerOption)
	}
	texts := []string{"Pizza", "Sushi", "Tacos"}
	if len(result.Options) != len(texts) {
		t.Fatalf("expected %d options, got %d", len(texts), len(result.Options))
	}
	for position, option := range result.Options {
		if option.Text != texts[position] {
			t.Fatalf("option %d: expected %q, got %q", position, texts[position], option.Text)
		}
		if option.Position != position {
			t.Fatalf("option %q: expected position %d, got %d", option.Text, position, option.Position)
		}
	}
}

func TestCreatePollRejectsInsufficientOptions(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustOwner(t, "a@x.com")

	tests := []struct {
		name    string
		fields  PollFields
		options []string
	}{
		{
			name:    "single-option",
			fields:  PollFields{Title: "Lunch", Question: "Where?"},
			options: []string{"Pizza"},
		},
		{
			name:    "blank-options",
			fields:  PollFields{Title: "Lunch", Question: "Where?"},
			options: []string{"Pizza", "  ", ""},
		},
		{
			name:    "missing-title",
			fields:  PollFields{Question: "Where?"},
			options: []string{"Pizza", "Sushi"},
		},
		{
			name:    "missing-question",
			fields:  PollFields{Title: "Lunch"},
			options: []string{"Pizza", "Sushi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.CreatePoll(context.Background(), owner.ID, tt.fields, tt.options)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpdatePollReplacesOptionSet(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustOwner(t, "a@x.com")
	created := env.mustCreatePoll(t, owner.ID, "Pizza", "Sushi")

	err := env.service.UpdatePoll(context.Background(), created.PollID, owner.ID, PollFields{
		Title:              "Dinner",
		Question:           "Where to eat tonight?",
		AllowMultipleVotes: true,
		IsPublic:           false,
	}, []string{"Ramen", "Curry", "Pho"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	result, err := env.service.GetPollForEdit(context.Background(), created.PollID, owner.ID)
	if err != nil {
		t.Fatalf("get for edit failed: %v", err)
	}
	if result.Poll.Title != "Dinner" {
		t.Fatalf("expected updated title, got %q", result.Poll.Title)
	}
	if !result.Poll.AllowMultipleVotes {
		t.Fatalf("expected allow_multiple_votes to update")
	}
	if result.Poll.IsPublic {
		t.Fatalf("expected poll to become private")
	}
	if result.Poll.ShareToken != created.ShareToken {
		t.Fatalf("share token must never be regenerated: had %q, got %q", created.ShareToken, result.Poll.ShareToken)
	}
	texts := []string{"Ramen", "Curry", "Pho"}
	if len(result.Options) != len(texts) {
		t.Fatalf("expected %d options after replacement, got %d", len(texts), len(result.Options))
	}
	for position, option := range result.Options {
		if option.Text != texts[position] || option.Position != position {
			t.Fatalf("option %d: got %q at position %d", position, option.Text, option.Position)
		}
	}
}

func TestUpdatePollByNonOwnerFailsAndLeavesPollUnchanged(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustOwner(t, "a@x.com")
	intruder := env.mustOwner(t, "b@y.com")
	created := env.mustCreatePoll(t, owner.ID, "Pizza", "Sushi")

	err := env.service.UpdatePoll(context.Background(), created.PollID, intruder.ID, PollFields{
		Title:    "Hijacked",
		Question: "Where?",
	}, []string{"One", "Two"})
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ownership error, got %v", err)
	}

	result, err := env.service.GetPollForEdit(context.Background(), created.PollID, owner.ID)
	if err != nil {
		t.Fatalf("get for edit failed: %v", err)
	}
	if result.Poll.Title != "Lunch" {
		t.Fatalf("poll changed despite failed update: %q", result.Poll.Title)
	}
	if len(result.Options) != 2 || result.Options[0].Text != "Pizza" {
		t.Fatalf("options changed despite failed update: %+v", result.Options)
	}
}

func TestUpdatePollOnMissingPollReportsNotOwner(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustOwner(t, "a@x.com")

	err := env.service.UpdatePoll(context.Background(), "no-such-poll", owner.ID, PollFields{
		Title:    "Lunch",
		Question: "Where?",
	}, []string{"Pizza", "Sushi"})
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ownership error for missing poll, got %v", err)
	}
}

func TestDeletePollCascadesToOptionsAndVotes(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustOwner(t, "a@x.com")
	created := env.mustCreatePoll(t, owner.ID, "Pizza", "Sushi")
	pizza := env.optionIDByText(t, created.PollID, "Pizza")

	if _, err := env.service.RecordVotes(context.Background(), created.PollID, []string{pizza}, "b@y.com", "Bea"); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	if err := env.service.DeletePoll(context.Background(), created.PollID, owner.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := env.service.GetPollWithResults(context.Background(), created.PollID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := env.service.GetPollForEdit(context.Background(), created.PollID, owner.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for edit after delete, got %v", err)
	}

	var optionCount, voteCount int64
	if err := env.db.Model(&PollOption{}).Where("poll_id = ?", created.PollID).Count(&optionCount).Error; err != nil {
		t.Fatalf("option count failed: %v", err)
	}
	if err := env.db.Model(&Vote{}).Where("poll_id = ?", created.PollID).Count(&voteCount).Error; err != nil {
		t.Fatalf("vote count failed: %v", err)
	}
	if optionCount != 0 || voteCount != 0 {
		t.Fatalf("expected cascade delete, got %d options and %d votes", optionCount, voteCount)
	}
}

func TestDeletePollByNonOwnerFails(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustOwner(t, "a@x.com")
	intruder := env.mustOwner(t, "b@y.com")
	created := env.mustCreatePoll(t, owner.ID, "Pizza", "Sushi")

	if err := env.service.DeletePoll(context.Background(), created.PollID, intruder.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ownership error, got %v", err)
	}
	if _, err := env.service.GetPollForEdit(context.Background(), created.PollID, owner.ID); err != nil {
		t.Fatalf("poll should survive failed delete: %v", err)
	}
}

func TestListPollsForOwnerOrdersNewestFirstWithCounts(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustOwner(t, "a@x.com")
	other := env.mustOwner(t, "b@y.com")

	first := env.mustCreatePoll(t, owner.ID, "Pizza", "Sushi")
	second := env.mustCreatePoll(t, owner.ID, "Cats", "Dogs", "Birds")
	env.mustCreatePoll(t, other.ID, "Yes", "No")

	pizza := env.optionIDByText(t, first.PollID, "Pizza")
	if _, err := env.service.RecordVotes(context.Background(), first.PollID, []string{pizza}, "c@z.com", ""); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	summaries, err := env.service.ListPollsForOwner(context.Background(), owner.ID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 polls for owner, got %d", len(summaries))
	}
	if summaries[0].Poll.ID != second.PollID {
		t.Fatalf("expected newest poll first, got %q", summaries[0].Poll.ID)
	}
	if summaries[0].OptionCount != 3 || summaries[0].TotalVotes != 0 {
		t.Fatalf("unexpected counts for newest poll: %+v", summaries[0])
	}
	if summaries[1].OptionCount != 2 || summaries[1].TotalVotes != 1 {
		t.Fatalf("unexpected counts for oldest poll: %+v", summaries[1])
	}
}

func TestGetPollForEditHidesOtherUsersPolls(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustOwner(t, "a@x.com")
	intruder := env.mustOwner(t, "b@y.com")
	created := env.mustCreatePoll(t, owner.ID, "Pizza", "Sushi")

	_, err := env.service.GetPollForEdit(context.Background(), created.PollID, intruder.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-ownership must be indistinguishable from non-existence, got %v", err)
	}
}
