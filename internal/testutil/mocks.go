package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

// MockProcessingQueue records the sequencing objects handed to the file
// processing chain.
type MockProcessingQueue struct {
	mu      sync.Mutex
	objects []int64

	// Configurable return value
	SubmitErr error
}

// Submit records objectID.
func (m *MockProcessingQueue) Submit(ctx context.Context, objectID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return m.SubmitErr
	}
	m.objects = append(m.objects, objectID)
	return nil
}

// Objects returns the submitted object ids in order.
func (m *MockProcessingQueue) Objects() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.objects...)
}

// MockMailer records account and pipeline notifications instead of
// sending mail.
type MockMailer struct {
	mu       sync.Mutex
	users    []string
	analyses []string

	// Configurable return value
	SendErr error
}

// NotifyUserCreated records the new account's username.
func (m *MockMailer) NotifyUserCreated(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.users = append(m.users, u.Username)
	return nil
}

// NotifyAnalysisFinished records "username:submissionID:state".
func (m *MockMailer) NotifyAnalysisFinished(ctx context.Context, u *models.User, sub *models.AnalysisSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.analyses = append(m.analyses, fmt.Sprintf("%s:%d:%s", u.Username, sub.ID, sub.State))
	return nil
}

// Users returns the usernames notified of a new account.
func (m *MockMailer) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.users...)
}

// Analyses returns the pipeline notices sent.
func (m *MockMailer) Analyses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.analyses...)
}

// MockTokenStore keeps remote API tokens in memory, one per (api, user).
type MockTokenStore struct {
	mu     sync.Mutex
	tokens map[[2]int64]*models.RemoteAPIToken
}

// NewMockTokenStore returns an empty store.
func NewMockTokenStore() *MockTokenStore {
	return &MockTokenStore{tokens: make(map[[2]int64]*models.RemoteAPIToken)}
}

// SaveRemoteAPIToken replaces the token of t's api and user.
func (m *MockTokenStore) SaveRemoteAPIToken(ctx context.Context, t *models.RemoteAPIToken) (*models.RemoteAPIToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	m.tokens[[2]int64{t.RemoteAPIID, t.UserID}] = &c
	return &c, nil
}

// GetRemoteAPIToken returns the token valid at at.
func (m *MockTokenStore) GetRemoteAPIToken(ctx context.Context, apiID, userID int64, at time.Time) (*models.RemoteAPIToken, error) {
	const op errors.Op = "testutil.MockTokenStore.GetRemoteAPIToken"

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[[2]int64{apiID, userID}]
	if !ok {
		return nil, errors.NotFound(op, "remote api token", apiID)
	}
	if t.IsExpired(at) {
		return nil, errors.E(op, errors.KindCredentialsExpired, "remote api token has expired")
	}
	return t, nil
}

// DeleteRemoteAPIToken drops the token of an api and user.
func (m *MockTokenStore) DeleteRemoteAPIToken(ctx context.Context, apiID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, [2]int64{apiID, userID})
	return nil
}
