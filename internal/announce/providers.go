package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Provider speaks an announcement on the waiting-room screen of a clinic.
type Provider interface {
	Send(ctx context.Context, message, clinicID string) error
}

type ProviderConfig struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
}

func NewProvider(cfg ProviderConfig, logger zerolog.Logger) Provider {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "log":
		return logProvider{logger: logger}
	case "noop":
		return noopProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			logger.Warn().Msg("announce webhook url missing, falling back to log provider")
			return logProvider{logger: logger}
		}
		return newWebhookProvider(cfg.WebhookURL, cfg.WebhookToken)
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return newWebhookProvider(cfg.Kind, cfg.WebhookToken)
		}
		logger.Warn().Str("provider", cfg.Kind).Msg("unknown announce provider, using log")
		return logProvider{logger: logger}
	}
}

type logProvider struct {
	logger zerolog.Logger
}

func (p logProvider) Send(ctx context.Context, message, clinicID string) error {
	p.logger.Info().Str("clinic_id", clinicID).Str("text", message).Msg("announce")
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message, clinicID string) error {
	return nil
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func newWebhookProvider(url, token string) webhookProvider {
	return webhookProvider{url: url, token: token, client: &http.Client{Timeout: 5 * time.Second}}
}

func (p webhookProvider) Send(ctx context.Context, message, clinicID string) error {
	body, err := json.Marshal(map[string]string{
		"clinic_id": clinicID,
		"text":      message,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	}
	return nil
}

var errRejected = errors.New("announce provider rejected request")
