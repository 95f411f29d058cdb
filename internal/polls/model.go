package polls

import (
	"time"
)

// PollStatus enumerates the lifecycle states of a poll.
type PollStatus string

const (
	// StatusActive marks a poll that is open for voting.
	StatusActive PollStatus = "active"
	// StatusClosed marks a poll that no longer accepts votes in the UI.
	StatusClosed PollStatus = "closed"
	// StatusDraft marks a poll that has not been published yet.
	StatusDraft PollStatus = "draft"
)

// Valid reports whether the status is one of the enumerated values.
func (s PollStatus) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusDraft:
		return true
	}
	return false
}

// Poll models a question with a fixed set of selectable options, owned by
// its creator. The share token is a second unique opaque key generated at
// creation and never regenerated; it allows non-owners to locate a public
// poll without knowing its identifier.
type Poll struct {
	ID                 string     `gorm:"column:id;primaryKey;size:190;not null"`
	Title              string     `gorm:"column:title;size:320;not null"`
	Question           string     `gorm:"column:question;type:text;not null"`
	Description        string     `gorm:"column:description;type:text"`
	Status             PollStatus `gorm:"column:status;size:16;not null;default:active"`
	AllowMultipleVotes bool       `gorm:"column:allow_multiple_votes;not null;default:false"`
	MaxVotesPerOption  int        `gorm:"column:max_votes_per_option;not null;default:1"`
	OwnerID            string     `gorm:"column:created_by;size:190;not null;index"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	ExpiresAt          *time.Time `gorm:"column:expires_at"`
	IsPublic           bool       `gorm:"column:is_public;not null;default:true"`
	ShareToken         string     `gorm:"column:share_token;size:190;not null;uniqueIndex"`
}

// TableName provides the explicit table binding for GORM.
func (Poll) TableName() string {
	return "polls"
}

// PollOption is one selectable answer to a poll's question. Options are
// exclusively owned by their poll and are wholesale replaced on edit, so
// the ordinal position always mirrors the input sequence.
type PollOption struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	PollID    string    `gorm:"column:poll_id;size:190;not null;index"`
	Text      string    `gorm:"column:option_text;type:text;not null"`
	Position  int       `gorm:"column:option_order;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (PollOption) TableName() string {
	return "poll_options"
}

// Vote records a single (poll, option, voter) association. Two composite
// unique indexes hold the duplicate-vote invariant: a resolved identity
// cannot vote for the same option twice, and neither can a given email
// independent of identity. Voter email and name are stored as pointers so
// absent values persist as NULL and never collide under the email index.
type Vote struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	PollID     string    `gorm:"column:poll_id;size:190;not null;index;uniqueIndex:idx_votes_poll_option_voter,priority:1;uniqueIndex:idx_votes_poll_option_email,priority:1"`
	OptionID   string    `gorm:"column:option_id;size:190;not null;index;uniqueIndex:idx_votes_poll_option_voter,priority:2;uniqueIndex:idx_votes_poll_option_email,priority:2"`
	VoterID    string    `gorm:"column:voter_id;size:190;not null;index;uniqueIndex:idx_votes_poll_option_voter,priority:3"`
	VoterEmail *string   `gorm:"column:voter_email;size:320;uniqueIndex:idx_votes_poll_option_email,priority:3"`
	VoterName  *string   `gorm:"column:voter_name;size:320"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "votes"
}

// PollFields carries the mutable poll attributes supplied on create and
// update. Zero values are normalized by the service (status defaults to
// active, max votes per option to 1).
type PollFields struct {
	Title              string
	Question           string
	Description        string
	Status             PollStatus
	AllowMultipleVotes bool
	MaxVotesPerOption  int
	ExpiresAt          *time.Time
	IsPublic           bool
}

// CreatedPoll is the result of a successful poll creation.
type CreatedPoll struct {
	PollID     string
	ShareToken string
}

// PollWithOptions pairs a poll with its options in ordinal order, without
// tallies.
type PollWithOptions struct {
	Poll    Poll
	Options []PollOption
}

// OptionResult is the tally for one option: its vote count and that
// count's share of the poll's total votes, rounded to two decimals.
type OptionResult struct {
	OptionID       string
	Text           string
	Position       int
	VoteCount      int64
	VotePercentage float64
}

// PollResults is the aggregated read model for a poll. Each vote row
// counts once toward TotalVotes, so a voter selecting several options on
// a multiple-vote poll contributes to several option counts and the same
// number of times to the total.
type PollResults struct {
	Poll       Poll
	Options    []OptionResult
	TotalVotes int64
}

// PollSummary annotates a poll with its option count and total vote count
// for owner listings.
type PollSummary struct {
	Poll        Poll
	OptionCount int64
	TotalVotes  int64
}
