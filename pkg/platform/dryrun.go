package platform

import (
	"context"
	"fmt"
	"strings"

	"ai-influencer/pkg/logger"

	"github.com/google/uuid"
)

// DryRunAdapter accepts every post without contacting the platform.
type DryRunAdapter struct {
	account Account
	logger  *logger.Logger
}

// NewDryRunFactory returns a Factory producing DryRunAdapters.
func NewDryRunFactory(log *logger.Logger) Factory {
	return func(account Account) (Adapter, error) {
		return &DryRunAdapter{account: account, logger: log}, nil
	}
}

func (a *DryRunAdapter) Authenticate(ctx context.Context, credentials map[string]string) (bool, error) {
	return true, nil
}

func (a *DryRunAdapter) PostContent(ctx context.Context, req PostRequest) (*PostResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	postID := uuid.New().String()
	a.logger.Info("[DRY RUN] %s/%s would post %d media file(s) (video=%t, category=%s, hashtags=%s)",
		a.account.Platform, a.account.Username, len(req.MediaPaths), req.IsVideo, req.Category, strings.Join(req.Hashtags, " "))

	return &PostResult{
		Success: true,
		PostID:  postID,
		URL:     fmt.Sprintf("https://%s.dry-run.local/%s/%s", a.account.Platform, a.account.Username, postID),
	}, nil
}

func (a *DryRunAdapter) Close() error {
	return nil
}
