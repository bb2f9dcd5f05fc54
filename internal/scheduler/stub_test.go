package scheduler

import (
	"context"
	"time"

	"melody-map/internal/providers"
	"melody-map/internal/storage"
)

type stubProvider struct{}

func (stubProvider) Platform() storage.Platform { return storage.PlatformSpotify }

func (stubProvider) SupportsRefresh() bool { return true }

func (stubProvider) Refresh(ctx context.Context, refreshToken string) providers.RefreshResult {
	return providers.Success("refreshed", "", 3600)
}

func (stubProvider) Verify(ctx context.Context, accessToken string) (bool, error) {
	return true, nil
}

func (stubProvider) TokenLifetime(expiresIn int) time.Duration {
	return time.Duration(expiresIn) * time.Second
}
