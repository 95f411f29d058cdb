package polls

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pollhive/pollhive/backend/internal/users"
	"github.com/google/uuid"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	service     *Service
	userService *users.Service
	db          *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
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
	if err := db.AutoMigrate(&users.User{}, &Poll{}, &PollOption{}, &Vote{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	idProvider := NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
	})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      advancingClock(time.Unix(1700000000, 0)),
		IDProvider: idProvider,
		Identities: userService,
	})
	if err != nil {
		t.Fatalf("failed to create poll service: %v", err)
	}

	return &testEnv{service: service, userService: userService, db: db}
}

// advancingClock returns a clock that moves forward one second per call so
// creation-time ordering is deterministic in tests.
func advancingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func (env *testEnv) mustOwner(t *testing.T, email string) users.User {
	t.Helper()
	owner, err := env.userService.ResolveOrCreate(context.Background(), email, "")
	if err != nil {
		t.Fatalf("failed to resolve owner %q: %v", email, err)
	}
	return owner
}

func (env *testEnv) mustCreatePoll(t *testing.T, ownerID string, optionTexts ...string) CreatedPoll {
	t.Helper()
	created, err := env.service.CreatePoll(context.Background(), ownerID, PollFields{
		Title:    "Lunch",
		Question: "Where to eat?",
		IsPublic: true,
	}, optionTexts)
	if err != nil {
		t.Fatalf("failed to create poll: %v", err)
	}
	return created
}

func (env *testEnv) optionIDByText(t *testing.T, pollID, text string) string {
	t.Helper()
	var option PollOption
	if err := env.db.Where("poll_id = ? AND option_text = ?", pollID, text).Take(&option).Error; err != nil {
		t.Fatalf("failed to find option %q: %v", text, err)
	}
	return option.ID
}
