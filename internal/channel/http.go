package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"anchorwatch/internal/config"
	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
)

// Default outbound rates when the config leaves rate_per_sec at 0.
// Telephony providers throttle hard; mail and in-app do not.
func defaultRate(ch domain.Channel) int {
	switch ch {
	case domain.ChannelSMS, domain.ChannelWhatsApp:
		return 1
	default:
		return 10
	}
}

// HTTPAdapter posts rendered messages to a provider webhook. One
// instance per channel; the token-bucket limiter serializes bursts the
// provider would reject anyway.
type HTTPAdapter struct {
	channel  domain.Channel
	endpoint string
	token    string
	client   *http.Client
	limiter  *rate.Limiter
	log      logx.Logger
}

// NewHTTPAdapter builds an adapter from one channel config section.
// Returns nil when the channel is disabled so callers can skip
// registration with a plain nil check.
func NewHTTPAdapter(ch domain.Channel, cfg config.ChannelConfig, client *http.Client, log logx.Logger) *HTTPAdapter {
	if !cfg.Enabled {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = defaultRate(ch)
	}
	return &HTTPAdapter{
		channel:  ch,
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   client,
		// burst = rate so short spikes don't block too hard
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}
}

func (a *HTTPAdapter) Channel() domain.Channel { return a.channel }

type sendRequest struct {
	To            string `json:"to"`
	Subject       string `json:"subject,omitempty"`
	Body          string `json:"body"`
	Priority      string `json:"priority"`
	CorrelationID string `json:"correlation_id"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

func (a *HTTPAdapter) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.Recipient == "" {
		return Result{}, ErrNoAddress
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(sendRequest{
		To:            msg.Recipient,
		Subject:       msg.Title,
		Body:          msg.Body,
		Priority:      string(msg.Priority),
		CorrelationID: msg.AlertID,
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%s send: %w", a.channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Result{}, fmt.Errorf("%s provider returned %d: %s", a.channel, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var sr sendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&sr); err != nil {
		// Provider accepted the message; a malformed body only costs us
		// the message id.
		a.log.Debug("provider response not decodable", logx.String("channel", string(a.channel)), logx.Err(err))
	}
	return Result{MessageID: sr.MessageID}, nil
}

// RegistryFromConfig builds adapters for every enabled channel section.
func RegistryFromConfig(cfg config.ChannelsConfig, client *http.Client, log logx.Logger) *Registry {
	var adapters []Adapter
	add := func(ch domain.Channel, cc config.ChannelConfig) {
		if a := NewHTTPAdapter(ch, cc, client, log); a != nil {
			adapters = append(adapters, a)
		}
	}
	add(domain.ChannelEmail, cfg.Email)
	add(domain.ChannelSMS, cfg.SMS)
	add(domain.ChannelWhatsApp, cfg.WhatsApp)
	add(domain.ChannelInApp, cfg.InApp)
	return NewRegistry(adapters...)
}
