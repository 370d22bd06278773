// Package testutil provides testing utilities and helpers for termlink tests.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/termlink/internal/remote"
)

// MockRemote is a mock implementation of remote.Remote for testing.
type MockRemote struct {
	mock.Mock
}

var _ remote.Remote = (*MockRemote)(nil)

// NewMockRemote creates a mock remote with default behaviors: it is live,
// speaks protocol 1.0 and closes cleanly.
func NewMockRemote(t *testing.T) *MockRemote {
	t.Helper()
	m := new(MockRemote)
	m.On("Live").Return(true).Maybe()
	m.On("ProtocolVersion").Return(remote.Version{Major: 1, Minor: 0}).Maybe()
	m.On("Close").Return(nil).Maybe()
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockRemote) Live() bool {
	return m.Called().Bool(0)
}

func (m *MockRemote) ProtocolVersion() remote.Version {
	return m.Called().Get(0).(remote.Version)
}

func (m *MockRemote) Layout(ctx context.Context) (*remote.Layout, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.Layout), args.Error(1)
}

func (m *MockRemote) DefaultProfile(ctx context.Context) (remote.Profile, error) {
	args := m.Called(ctx)
	return args.Get(0).(remote.Profile), args.Error(1)
}

func (m *MockRemote) Profile(ctx context.Context, name string) (remote.Profile, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(remote.Profile), args.Error(1)
}

func (m *MockRemote) CreateWindow(ctx context.Context, profile string) (remote.Created, error) {
	args := m.Called(ctx, profile)
	return args.Get(0).(remote.Created), args.Error(1)
}

func (m *MockRemote) CreateTab(ctx context.Context, windowID, profile string) (remote.Created, error) {
	args := m.Called(ctx, windowID, profile)
	return args.Get(0).(remote.Created), args.Error(1)
}

func (m *MockRemote) Activate(ctx context.Context, sessionID string, selectTab, orderWindowFront bool) error {
	return m.Called(ctx, sessionID, selectTab, orderWindowFront).Error(0)
}

func (m *MockRemote) Variable(ctx context.Context, scope remote.Scope, id, name string) (string, error) {
	args := m.Called(ctx, scope, id, name)
	return args.String(0), args.Error(1)
}

func (m *MockRemote) SetVariable(ctx context.Context, scope remote.Scope, id, name, value string) error {
	return m.Called(ctx, scope, id, name, value).Error(0)
}

func (m *MockRemote) SetTabTitle(ctx context.Context, tabID, title string) error {
	return m.Called(ctx, tabID, title).Error(0)
}

func (m *MockRemote) SetSessionName(ctx context.Context, sessionID, name string) error {
	return m.Called(ctx, sessionID, name).Error(0)
}

func (m *MockRemote) BufferInfo(ctx context.Context, sessionID string) (remote.BufferInfo, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(remote.BufferInfo), args.Error(1)
}

func (m *MockRemote) ReadLines(ctx context.Context, sessionID string, firstLine int64, count int) ([]remote.Line, error) {
	args := m.Called(ctx, sessionID, firstLine, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]remote.Line), args.Error(1)
}

func (m *MockRemote) SendText(ctx context.Context, sessionID, text string, suppressBroadcast bool) error {
	return m.Called(ctx, sessionID, text, suppressBroadcast).Error(0)
}

func (m *MockRemote) LastPrompt(ctx context.Context, sessionID string) (*remote.Prompt, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.Prompt), args.Error(1)
}

func (m *MockRemote) Prompt(ctx context.Context, sessionID, promptID string) (*remote.Prompt, error) {
	args := m.Called(ctx, sessionID, promptID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.Prompt), args.Error(1)
}

func (m *MockRemote) SubscribePrompts(ctx context.Context, sessionID string) (remote.Subscription, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(remote.Subscription), args.Error(1)
}

func (m *MockRemote) Close() error {
	return m.Called().Error(0)
}

// ObservedLogger returns a logger recording every entry at level or above
func ObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

// Lines builds hard-terminated buffer lines
func Lines(texts ...string) []remote.Line {
	out := make([]remote.Line, len(texts))
	for i, t := range texts {
		out[i] = remote.Line{Text: t, HardEOL: true}
	}
	return out
}
