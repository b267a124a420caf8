package fxchat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	StopReasonEndTurn      = "end_turn"
	StopReasonToolUse      = "tool_use"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonStopSequence = "stop_sequence"
)

type GenerateRequest struct {
	ModelID   string           `json:"model_id"`
	MaxTokens int64            `json:"max_tokens"`
	System    string           `json:"system,omitempty"`
	Tools     []ToolDescriptor `json:"tools,omitempty"`
	Messages  []Message        `json:"messages"`
}

type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

type GenerateResponse struct {
	StopReason string         `json:"stop_reason"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	Usage      Usage          `json:"usage"`
}

type ModelProvider interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

type ModelProviderFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

func (f ModelProviderFunc) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	return f(ctx, req)
}

type ModelProviderManager struct {
	mu        sync.RWMutex
	providers map[string]ModelProvider
}

var (
	ErrModelProviderNameEmpty         = errors.New("model provider name is empty")
	ErrModelProviderAlreadyRegistered = errors.New("model provider already registered")
	ErrModelProviderNotFound          = errors.New("model provider not found")
)

func (m *ModelProviderManager) Register(name string, provider ModelProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		return ErrModelProviderNameEmpty
	}
	if _, ok := m.providers[name]; ok {
		return ErrModelProviderAlreadyRegistered
	}
	m.providers[name] = provider
	return nil
}

func (m *ModelProviderManager) Get(name string) (ModelProvider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	provider, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelProviderNotFound, name)
	}
	return provider, nil
}

func (m *ModelProviderManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *ModelProviderManager) Clone() *ModelProviderManager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clone := NewModelProviderManager()
	for name, provider := range m.providers {
		clone.providers[name] = provider
	}
	return clone
}

func NewModelProviderManager() *ModelProviderManager {
	return &ModelProviderManager{
		providers: make(map[string]ModelProvider),
	}
}

var globalModelProviderManager = NewModelProviderManager()

type contextKey string

var modelProviderManagerContextKey = contextKey("modelProviderManager")

// WithModelProviderManager returns a context carrying a copy of the current manager,
// so registrations made through it do not leak into the process-wide one.
func WithModelProviderManager(ctx context.Context) (context.Context, *ModelProviderManager) {
	var manager *ModelProviderManager
	if m, ok := modelProviderManagerFromContext(ctx); ok {
		manager = m.Clone()
	} else {
		manager = globalModelProviderManager.Clone()
	}
	return context.WithValue(ctx, modelProviderManagerContextKey, manager), manager
}

func modelProviderManagerFromContext(ctx context.Context) (*ModelProviderManager, bool) {
	m, ok := ctx.Value(modelProviderManagerContextKey).(*ModelProviderManager)
	return m, ok
}

func RegisterModelProvider(name string, provider ModelProvider) error {
	return globalModelProviderManager.Register(name, provider)
}

func GetModelProvider(ctx context.Context, name string) (ModelProvider, error) {
	manager, ok := modelProviderManagerFromContext(ctx)
	if !ok {
		manager = globalModelProviderManager
	}
	return manager.Get(name)
}

func ModelProviders(ctx context.Context) []string {
	manager, ok := modelProviderManagerFromContext(ctx)
	if !ok {
		manager = globalModelProviderManager
	}
	return manager.List()
}
