package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"anchorwatch/internal/config"
	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
)

func TestHTTPAdapterSend(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotReq sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(sendResponse{MessageID: "prov-42"})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(domain.ChannelEmail, config.ChannelConfig{
		Enabled: true, Endpoint: srv.URL, Token: "sekrit",
	}, srv.Client(), logx.Nop())
	if a == nil {
		t.Fatal("adapter nil for enabled channel")
	}

	res, err := a.Send(context.Background(), Message{
		AlertID: "al-1", Title: "subject", Body: "hello",
		Priority: domain.PriorityHigh, Recipient: "ops@example.test",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "prov-42" {
		t.Fatalf("message id = %q, want prov-42", res.MessageID)
	}
	if gotAuth != "Bearer sekrit" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotReq.To != "ops@example.test" || gotReq.CorrelationID != "al-1" {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestHTTPAdapterProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(domain.ChannelSMS, config.ChannelConfig{Enabled: true, Endpoint: srv.URL},
		srv.Client(), logx.Nop())

	_, err := a.Send(context.Background(), Message{AlertID: "al-1", Body: "x", Recipient: "+65"})
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("error lacks status/body: %v", err)
	}
}

func TestHTTPAdapterRejectsEmptyRecipient(t *testing.T) {
	t.Parallel()
	a := NewHTTPAdapter(domain.ChannelEmail, config.ChannelConfig{Enabled: true, Endpoint: "http://unused"},
		nil, logx.Nop())
	if _, err := a.Send(context.Background(), Message{AlertID: "al-1", Body: "x"}); err != ErrNoAddress {
		t.Fatalf("err = %v, want ErrNoAddress", err)
	}
}

func TestRegistryFromConfigSkipsDisabled(t *testing.T) {
	t.Parallel()
	reg := RegistryFromConfig(config.ChannelsConfig{
		Email: config.ChannelConfig{Enabled: true, Endpoint: "http://mail"},
		SMS:   config.ChannelConfig{Enabled: false},
	}, nil, logx.Nop())

	if _, ok := reg.Get(domain.ChannelEmail); !ok {
		t.Fatal("email adapter missing")
	}
	if _, ok := reg.Get(domain.ChannelSMS); ok {
		t.Fatal("disabled sms adapter registered")
	}
	if got := len(reg.Channels()); got != 1 {
		t.Fatalf("registered channels = %d, want 1", got)
	}
}
