package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore/storage"
	"github.com/MrEthical07/authcore/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s := New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	_, err := s.GetPrincipalByID(context.Background(), "u1")
	require.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestCancelledContextIsUnavailable(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.RedeemRefreshToken(ctx, "h", time.Now())
	require.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreatePrincipal(ctx, storage.Principal{ID: "u1", Email: "a@x.com", Roles: []string{"user"}})
	require.NoError(t, err)

	p, err := s.GetPrincipalByID(ctx, "u1")
	require.NoError(t, err)
	p.Roles[0] = "admin"

	again, err := s.GetPrincipalByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"user"}, again.Roles)
}
