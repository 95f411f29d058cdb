package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pollhive/pollhive/backend/internal/polls"
	"github.com/pollhive/pollhive/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "pollhive_user_id"

var (
	errMissingTokenManager    = errors.New("session token manager dependency required")
	errMissingPollService     = errors.New("poll service dependency required")
	errMissingIdentityService = errors.New("identity service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates bearer tokens for the
// placeholder email sign-in flow.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, userID, email string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the boundary layer to the domain services.
type Dependencies struct {
	TokenManager   SessionTokenManager
	PollService    *polls.Service
	UserService    *users.Service
	Realtime       *TallyDispatcher
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewHTTPHandler builds the gin router exposing the poll API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.PollService == nil {
		return nil, errMissingPollService
	}
	if deps.UserService == nil {
		return nil, errMissingIdentityService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Realtime
	if dispatcher == nil {
		dispatcher = NewTallyDispatcher()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		pollService: deps.PollService,
		userService: deps.UserService,
		realtime:    dispatcher,
		logger:      logger,
	}

	router.POST("/auth/session", handler.handleSessionSignIn)
	router.GET("/polls/:id", handler.handleGetPollWithResults)
	router.GET("/polls/:id/events", handler.handleTallyStream)
	router.POST("/polls/:id/votes", handler.handleSubmitVotes)
	router.GET("/share/:token", handler.handleResolveShareToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/polls", handler.handleCreatePoll)
	protected.GET("/polls", handler.handleListPolls)
	protected.GET("/polls/:id/edit", handler.handleGetPollForEdit)
	protected.PUT("/polls/:id", handler.handleUpdatePoll)
	protected.DELETE("/polls/:id", handler.handleDeletePoll)

	return router, nil
}

type httpHandler struct {
	tokens      SessionTokenManager
	pollService *polls.Service
	userService *users.Service
	realtime    *TallyDispatcher
	logger      *zap.Logger
}

type sessionRequestPayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type sessionResponsePayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// handleSessionSignIn implements the placeholder auth flow: any email
// resolves to a session without password verification.
func (h *httpHandler) handleSessionSignIn(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.userService.ResolveOrCreate(c.Request.Context(), request.Email, request.Name)
	if err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign_in_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), user.ID, user.Email)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        userPayload{ID: user.ID, Email: user.Email, Name: user.Name},
	})
}

type pollRequestPayload struct {
	Title              string     `json:"title"`
	Question           string     `json:"question"`
	Description        string     `json:"description"`
	Status             string     `json:"status"`
	AllowMultipleVotes bool       `json:"allow_multiple_votes"`
	MaxVotesPerOption  int        `json:"max_votes_per_option"`
	ExpiresAt          *time.Time `json:"expires_at"`
	IsPublic           *bool      `json:"is_public"`
	Options            []string   `json:"options"`
}

func (p pollRequestPayload) fields() polls.PollFields {
	isPublic := true
	if p.IsPublic != nil {
		isPublic = *p.IsPublic
	}
	return polls.PollFields{
		Title:              p.Title,
		Question:           p.Question,
		Description:        p.Description,
		Status:             polls.PollStatus(p.Status),
		AllowMultipleVotes: p.AllowMultipleVotes,
		MaxVotesPerOption:  p.MaxVotesPerOption,
		ExpiresAt:          p.ExpiresAt,
		IsPublic:           isPublic,
	}
}

type createPollResponsePayload struct {
	PollID     string `json:"poll_id"`
	ShareToken string `json:"share_token"`
}

func (h *httpHandler) handleCreatePoll(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request pollRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.pollService.CreatePoll(c.Request.Context(), userID, request.fields(), request.Options)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, createPollResponsePayload{
		PollID:     created.PollID,
		ShareToken: created.ShareToken,
	})
}

func (h *httpHandler) handleUpdatePoll(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request pollRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.pollService.UpdatePoll(c.Request.Context(), c.Param("id"), userID, request.fields(), request.Options); err != nil {
		h.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *httpHandler) handleDeletePoll(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.pollService.DeletePoll(c.Request.Context(), c.Param("id"), userID); err != nil {
		h.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type pollSummaryPayload struct {
	Poll        pollPayload `json:"poll"`
	OptionCount int64       `json:"option_count"`
	TotalVotes  int64       `json:"total_votes"`
}

type pollPayload struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Question           string     `json:"question"`
	Description        string     `json:"description,omitempty"`
	Status             string     `json:"status"`
	AllowMultipleVotes bool       `json:"allow_multiple_votes"`
	MaxVotesPerOption  int        `json:"max_votes_per_option"`
	OwnerID            string     `json:"owner_id"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	IsPublic           bool       `json:"is_public"`
	ShareToken         string     `json:"share_token,omitempty"`
}

// pollToPayload renders a poll for JSON responses. The share token is only
// included on owner-scoped responses so public reads never leak it.
func pollToPayload(poll polls.Poll, includeShareToken bool) pollPayload {
	payload := pollPayload{
		ID:                 poll.ID,
		Title:              poll.Title,
		Question:           poll.Question,
		Description:        poll.Description,
		Status:             string(poll.Status),
		AllowMultipleVotes: poll.AllowMultipleVotes,
		MaxVotesPerOption:  poll.MaxVotesPerOption,
		OwnerID:            poll.OwnerID,
		CreatedAt:          poll.CreatedAt,
		UpdatedAt:          poll.UpdatedAt,
		ExpiresAt:          poll.ExpiresAt,
		IsPublic:           poll.IsPublic,
	}
	if includeShareToken {
		payload.ShareToken = poll.ShareToken
	}
	return payload
}

func (h *httpHandler) handleListPolls(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	summaries, err := h.pollService.ListPollsForOwner(c.Request.Context(), userID)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}

	payload := make([]pollSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, pollSummaryPayload{
			Poll:        pollToPayload(summary.Poll, true),
			OptionCount: summary.OptionCount,
			TotalVotes:  summary.TotalVotes,
		})
	}
	c.JSON(http.StatusOK, gin.H{"polls": payload})
}

type optionPayload struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

type pollWithOptionsPayload struct {
	Poll    pollPayload     `json:"poll"`
	Options []optionPayload `json:"options"`
}

func optionsToPayload(options []polls.PollOption) []optionPayload {
	payload := make([]optionPayload, 0, len(options))
	for _, option := range options {
		payload = append(payload, optionPayload{
			ID:       option.ID,
			Text:     option.Text,
			Position: option.Position,
		})
	}
	return payload
}

func (h *httpHandler) handleGetPollForEdit(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, err := h.pollService.GetPollForEdit(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, pollWithOptionsPayload{
		Poll:    pollToPayload(result.Poll, true),
		Options: optionsToPayload(result.Options),
	})
}

type optionResultPayload struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	Position       int     `json:"position"`
	VoteCount      int64   `json:"vote_count"`
	VotePercentage float64 `json:"vote_percentage"`
}

type pollResultsPayload struct {
	Poll       pollPayload           `json:"poll"`
	Options    []optionResultPayload `json:"options"`
	TotalVotes int64                 `json:"total_votes"`
}

func (h *httpHandler) handleGetPollWithResults(c *gin.Context) {
	results, err := h.pollService.GetPollWithResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderServiceError(c, err)
		return
	}

	options := make([]optionResultPayload, 0, len(results.Options))
	for _, option := range results.Options {
		options = append(options, optionResultPayload{
			ID:             option.OptionID,
			Text:           option.Text,
			Position:       option.Position,
			VoteCount:      option.VoteCount,
			VotePercentage: option.VotePercentage,
		})
	}
	c.JSON(http.StatusOK, pollResultsPayload{
		Poll:       pollToPayload(results.Poll, false),
		Options:    options,
		TotalVotes: results.TotalVotes,
	})
}

type voteRequestPayload struct {
	OptionIDs  []string `json:"option_ids"`
	VoterEmail string   `json:"voter_email"`
	VoterName  string   `json:"voter_name"`
}

func (h *httpHandler) handleSubmitVotes(c *gin.Context) {
	pollID := c.Param("id")

	var request voteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	votes, err := h.pollService.RecordVotes(c.Request.Context(), pollID, request.OptionIDs, request.VoterEmail, request.VoterName)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}

	optionIDs := make([]string, 0, len(votes))
	for _, vote := range votes {
		optionIDs = append(optionIDs, vote.OptionID)
	}
	h.realtime.Publish(TallyMessage{
		PollID:    pollID,
		EventType: TallyEventVotesRecorded,
		OptionIDs: optionIDs,
		Timestamp: time.Now().UTC(),
	})

	c.JSON(http.StatusCreated, gin.H{"status": "recorded", "votes": len(votes)})
}

func (h *httpHandler) handleResolveShareToken(c *gin.Context) {
	result, err := h.pollService.GetPollByShareToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, pollWithOptionsPayload{
		Poll:    pollToPayload(result.Poll, false),
		Options: optionsToPayload(result.Options),
	})
}

type tallyEventPayload struct {
	PollID    string   `json:"poll_id"`
	OptionIDs []string `json:"option_ids,omitempty"`
	Timestamp string   `json:"timestamp"`
	Source    string   `json:"source"`
}

// handleTallyStream serves live tally-change notifications over SSE so a
// results page can refetch without polling.
func (h *httpHandler) handleTallyStream(c *gin.Context) {
	pollID := c.Param("id")
	if _, err := h.pollService.GetPollWithResults(c.Request.Context(), pollID); err != nil {
		h.renderServiceError(c, err)
		return
	}

	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), pollID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// The opening heartbeat flushes the headers so clients observe the
	// stream as established before any vote arrives.
	c.SSEvent(tallyEventHeartbeat, tallyEventPayload{
		PollID:    pollID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    tallySourceBackend,
	})
	c.Writer.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, tallyEventPayload{
				PollID:    message.PollID,
				OptionIDs: message.OptionIDs,
				Timestamp: message.Timestamp.UTC().Format(time.RFC3339),
				Source:    tallySourceBackend,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(tallyEventHeartbeat, tallyEventPayload{
				PollID:    pollID,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Source:    tallySourceBackend,
			})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// renderServiceError maps domain errors onto HTTP statuses and surfaces
// the service error code when one is present.
func (h *httpHandler) renderServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal_error"
	switch {
	case errors.Is(err, polls.ErrValidation):
		status = http.StatusBadRequest
		message = "invalid_request"
	case errors.Is(err, polls.ErrNotFound):
		status = http.StatusNotFound
		message = "not_found"
	case errors.Is(err, polls.ErrNotOwner):
		status = http.StatusForbidden
		message = "forbidden"
	case errors.Is(err, polls.ErrDuplicateVote):
		status = http.StatusConflict
		message = "duplicate_vote"
	default:
		h.logger.Error("poll request failed", zap.Error(err))
	}

	var serviceErr *polls.ServiceError
	if errors.As(err, &serviceErr) {
		c.JSON(status, gin.H{"error": message, "code": serviceErr.Code()})
		return
	}
	c.JSON(status, gin.H{"error": message})
}
