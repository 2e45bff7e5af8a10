package tokens

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/raaihank/lead-sentinel/internal/cache"
	"github.com/raaihank/lead-sentinel/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu       sync.Mutex
	tokens   map[string]string
	messages map[string]*store.SanitizedMessage
	calls    int
	err      error
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tokens: map[string]string{}, messages: map[string]*store.SanitizedMessage{}}
}

func (f *fakeStore) GetOrCreateToken(_ context.Context, leadID, candidate string) (*store.AnonymousToken, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	if token, ok := f.tokens[leadID]; ok {
		return &store.AnonymousToken{LeadID: leadID, Token: token}, false, nil
	}
	f.tokens[leadID] = candidate
	return &store.AnonymousToken{LeadID: leadID, Token: candidate}, true, nil
}

func (f *fakeStore) SaveMessage(_ context.Context, msg *store.SanitizedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages[msg.MessageID] = msg
	return nil
}

func (f *fakeStore) GetStats(_ context.Context) (*store.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &store.Stats{Tokens: int64(len(f.tokens)), Messages: int64(len(f.messages))}, nil
}

func (f *fakeStore) Ping(_ context.Context) error {
	return f.pingErr
}

type fakeCache struct {
	values map[string]string
	err    error
}

func (f *fakeCache) GetStats(_ context.Context) (*cache.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &cache.Stats{TotalKeys: int64(len(f.values))}, nil
}

func (f *fakeCache) Ping(_ context.Context) error {
	return f.err
}

func (f *fakeCache) Get(_ context.Context, leadID string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.values[leadID]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, leadID, token string) error {
	if f.err != nil {
		return f.err
	}
	f.values[leadID] = token
	return nil
}

func TestGetOrCreate_Stable(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil, nil, zap.NewNop())
	ctx := context.Background()

	first, created, err := svc.GetOrCreate(ctx, "lead-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Regexp(t, `^anon_[0-9a-f]{32}$`, first)

	second, created, err := svc.GetOrCreate(ctx, " lead-1 ")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	other, _, err := svc.GetOrCreate(ctx, "lead-2")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestGetOrCreate_InvalidLead(t *testing.T) {
	svc := NewService(newFakeStore(), nil, nil, zap.NewNop())

	_, _, err := svc.GetOrCreate(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidLeadID)
}

func TestGetOrCreate_CacheHitSkipsStore(t *testing.T) {
	st := newFakeStore()
	tc := &fakeCache{values: map[string]string{"lead-1": "cached"}}
	svc := NewService(st, tc, nil, zap.NewNop())

	token, created, err := svc.GetOrCreate(context.Background(), "lead-1")
	require.NoError(t, err)

	assert.Equal(t, "cached", token)
	assert.False(t, created)
	assert.Zero(t, st.calls)
}

func TestGetOrCreate_CacheFilledOnMiss(t *testing.T) {
	st := newFakeStore()
	tc := &fakeCache{values: map[string]string{}}
	svc := NewService(st, tc, nil, zap.NewNop())

	token, _, err := svc.GetOrCreate(context.Background(), "lead-1")
	require.NoError(t, err)

	assert.Equal(t, token, tc.values["lead-1"])
}

func TestGetOrCreate_CacheDownFallsBackToStore(t *testing.T) {
	st := newFakeStore()
	tc := &fakeCache{err: errors.New("connection refused")}
	svc := NewService(st, tc, nil, zap.NewNop())

	token, created, err := svc.GetOrCreate(context.Background(), "lead-1")
	require.NoError(t, err)

	assert.NotEmpty(t, token)
	assert.True(t, created)
	assert.Equal(t, 1, st.calls)
}

func TestGetOrCreate_StoreError(t *testing.T) {
	st := newFakeStore()
	st.err = errors.New("db down")
	svc := NewService(st, nil, nil, zap.NewNop())

	_, _, err := svc.GetOrCreate(context.Background(), "lead-1")
	assert.Error(t, err)
}

func TestStoreMessage(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil, nil, zap.NewNop())

	err := svc.StoreMessage(context.Background(), Message{
		MessageID: "msg-1",
		Token:     "anon-1",
		Content:   "[NOMBRE] pidió precio",
		Metadata:  map[string]any{"canal": "whatsapp"},
	})
	require.NoError(t, err)

	saved := st.messages["msg-1"]
	require.NotNil(t, saved)
	assert.Equal(t, "anon-1", saved.Token)
	assert.JSONEq(t, `{"canal":"whatsapp"}`, string(saved.Metadata))
}

func TestStoreMessage_Validation(t *testing.T) {
	svc := NewService(newFakeStore(), nil, nil, zap.NewNop())

	assert.ErrorIs(t, svc.StoreMessage(context.Background(), Message{Token: "t"}), ErrInvalidMessage)
	assert.ErrorIs(t, svc.StoreMessage(context.Background(), Message{MessageID: "m"}), ErrInvalidMessage)
}

func TestStoreMessage_NilMetadata(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, nil, nil, zap.NewNop())

	require.NoError(t, svc.StoreMessage(context.Background(), Message{MessageID: "m", Token: "t"}))
	assert.JSONEq(t, `{}`, string(st.messages["m"].Metadata))
}

func TestHealth(t *testing.T) {
	st := newFakeStore()
	tc := &fakeCache{values: map[string]string{}}
	svc := NewService(st, tc, nil, zap.NewNop())

	health := svc.Health(context.Background())
	assert.Equal(t, Health{Store: "ok", Cache: "ok"}, health)
	assert.True(t, health.Healthy())
	assert.False(t, health.Degraded())

	tc.err = errors.New("connection refused")
	health = svc.Health(context.Background())
	assert.True(t, health.Healthy())
	assert.True(t, health.Degraded())
	assert.Equal(t, "connection refused", health.Cache)

	st.pingErr = errors.New("db down")
	health = svc.Health(context.Background())
	assert.False(t, health.Healthy())
	assert.Equal(t, "db down", health.Store)
}

func TestHealth_NoCache(t *testing.T) {
	svc := NewService(newFakeStore(), nil, nil, zap.NewNop())

	health := svc.Health(context.Background())
	assert.Equal(t, Health{Store: "ok"}, health)
	assert.False(t, health.Degraded())
}

func TestStats(t *testing.T) {
	st := newFakeStore()
	tc := &fakeCache{values: map[string]string{}}
	svc := NewService(st, tc, nil, zap.NewNop())
	ctx := context.Background()

	_, _, err := svc.GetOrCreate(ctx, "lead-1")
	require.NoError(t, err)
	require.NoError(t, svc.StoreMessage(ctx, Message{MessageID: "m", Token: "t"}))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &store.Stats{Tokens: 1, Messages: 1}, stats.Store)
	require.NotNil(t, stats.Cache)
	assert.Equal(t, int64(1), stats.Cache.TotalKeys)

	tc.err = errors.New("connection refused")
	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Nil(t, stats.Cache)

	st.err = errors.New("db down")
	_, err = svc.Stats(ctx)
	assert.Error(t, err)
}
