package api

import (
	"context"
	"encoding/json"

	"github.com/striglia/auraframes/internal/rest"
)

// NotificationService reads and writes push notification preferences. These
// endpoints predate the /v5 resource layout and keep their own paths; the
// payloads are not stable enough to model, so they pass through as raw JSON.
type NotificationService struct {
	client *rest.Client
}

func NewNotificationService(client *rest.Client) *NotificationService {
	return &NotificationService{client: client}
}

// Settings returns the account's notification settings document.
func (s *NotificationService) Settings(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := s.client.Get(ctx, "f/notifications/settings/", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// UpdateSetting submits one settings change. The leading slash is load
// bearing: this endpoint lives outside the /v5 prefix.
func (s *NotificationService) UpdateSetting(ctx context.Context, setting any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := s.client.Post(ctx, "/notifications/update_setting", setting, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
