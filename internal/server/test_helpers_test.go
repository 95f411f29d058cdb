package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pollhive/pollhive/backend/internal/auth"
	"github.com/pollhive/pollhive/backend/internal/polls"
	"github.com/pollhive/pollhive/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSigningSecret = "test-signing-secret"

type routerEnv struct {
	handler     http.Handler
	dispatcher  *TallyDispatcher
	pollService *polls.Service
	userService *users.Service
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&users.User{}, &polls.Poll{}, &polls.PollOption{}, &polls.Vote{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	idProvider := polls.NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
	})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	pollService, err := polls.NewService(polls.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Identities: userService,
	})
	if err != nil {
		t.Fatalf("failed to create poll service: %v", err)
	}

	dispatcher := NewTallyDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: auth.NewSessionIssuer(auth.SessionIssuerConfig{
			SigningSecret: []byte(testSigningSecret),
			SessionTTL:    time.Minute,
		}),
		PollService: pollService,
		UserService: userService,
		Realtime:    dispatcher,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &routerEnv{
		handler:     handler,
		dispatcher:  dispatcher,
		pollService: pollService,
		userService: userService,
	}
}

func (env *routerEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func (env *routerEnv) signIn(t *testing.T, email string) string {
	t.Helper()
	recorder := env.do(t, http.MethodPost, "/auth/session", "", map[string]string{"email": email})
	if recorder.Code != http.StatusOK {
		t.Fatalf("sign in failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload sessionResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode session response: %v", err)
	}
	if payload.AccessToken == "" {
		t.Fatalf("expected access token in session response")
	}
	return payload.AccessToken
}

func (env *routerEnv) createPoll(t *testing.T, token string, options ...string) createPollResponsePayload {
	t.Helper()
	recorder := env.do(t, http.MethodPost, "/polls", token, map[string]interface{}{
		"title":    "Lunch",
		"question": "Where to eat?",
		"options":  options,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create poll failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload createPollResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	return payload
}
