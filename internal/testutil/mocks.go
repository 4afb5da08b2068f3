package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/brightpath/compliance-core/internal/audit"
)

// MockEmailer is a mock implementation of the queue's delivery surface
type MockEmailer struct {
	mock.Mock
}

func NewMockEmailer(t *testing.T) *MockEmailer {
	m := &MockEmailer{}
	m.Test(t)
	return m
}

func (m *MockEmailer) SendEmail(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

// ExpectSendEmail sets up expectation for SendEmail
func (m *MockEmailer) ExpectSendEmail(to string, err error) *mock.Call {
	return m.On("SendEmail", mock.Anything, to, mock.Anything, mock.Anything).Return(err)
}

// MockUploader is a mock implementation of the export upload surface
type MockUploader struct {
	mock.Mock
}

func NewMockUploader(t *testing.T) *MockUploader {
	m := &MockUploader{}
	m.Test(t)
	return m
}

func (m *MockUploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	args := m.Called(ctx, key, body, contentType)
	return args.String(0), args.Error(1)
}

// RecordingAlerter captures security alerts for assertions. Safe for the
// audit log's fire-and-forget goroutine.
type RecordingAlerter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *RecordingAlerter) SecurityAlert(event audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *RecordingAlerter) Events() []audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Event(nil), a.events...)
}
