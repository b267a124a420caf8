package fxchat_test

import (
	"context"
	"testing"

	"github.com/mashiike/fxchat"
	"github.com/stretchr/testify/require"
)

func TestModelProviderManager(t *testing.T) {
	m := fxchat.NewModelProviderManager()
	p := fxchat.ModelProviderFunc(func(_ context.Context, _ *fxchat.GenerateRequest) (*fxchat.GenerateResponse, error) {
		return &fxchat.GenerateResponse{StopReason: fxchat.StopReasonEndTurn}, nil
	})
	require.NoError(t, m.Register("fake", p))
	require.ErrorIs(t, m.Register("fake", p), fxchat.ErrModelProviderAlreadyRegistered)
	require.ErrorIs(t, m.Register("", p), fxchat.ErrModelProviderNameEmpty)

	got, err := m.Get("fake")
	require.NoError(t, err)
	resp, err := got.Generate(context.Background(), &fxchat.GenerateRequest{})
	require.NoError(t, err)
	require.Equal(t, fxchat.StopReasonEndTurn, resp.StopReason)

	_, err = m.Get("missing")
	require.ErrorIs(t, err, fxchat.ErrModelProviderNotFound)

	require.NoError(t, m.Register("another", p))
	require.Equal(t, []string{"another", "fake"}, m.List())
}

func TestWithModelProviderManager(t *testing.T) {
	ctx, m := fxchat.WithModelProviderManager(context.Background())
	p := fxchat.ModelProviderFunc(func(_ context.Context, _ *fxchat.GenerateRequest) (*fxchat.GenerateResponse, error) {
		return &fxchat.GenerateResponse{}, nil
	})
	require.NoError(t, m.Register("scoped", p))

	_, err := fxchat.GetModelProvider(ctx, "scoped")
	require.NoError(t, err)
	require.Contains(t, fxchat.ModelProviders(ctx), "scoped")

	_, err = fxchat.GetModelProvider(context.Background(), "scoped")
	require.ErrorIs(t, err, fxchat.ErrModelProviderNotFound)
}
