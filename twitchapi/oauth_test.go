package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestUserTokenRefresherRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %s, want refresh_token", r.Form.Get("grant_type"))
		}
		if r.Form.Get("refresh_token") != "old-refresh" {
			t.Errorf("refresh_token = %s, want old-refresh", r.Form.Get("refresh_token"))
		}
		if r.Form.Get("client_id") != "cid" || r.Form.Get("client_secret") != "secret" {
			t.Errorf("credentials = %s/%s", r.Form.Get("client_id"), r.Form.Get("client_secret"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"token_type":    "bearer",
			"expires_in":    14400,
			"scope":         []string{"chat:read", "chat:edit"},
		})
	}))
	defer server.Close()

	r := &UserTokenRefresher{
		ClientID:     "cid",
		ClientSecret: "secret",
		TokenURL:     server.URL,
		HTTPClient:   server.Client(),
	}
	res, err := r.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Refresh() unexpected error = %v", err)
	}
	if res.AccessToken != "new-access" || res.RefreshToken != "new-refresh" {
		t.Errorf("Refresh() = %+v, want the new token pair", res)
	}
	if res.ExpiresIn != 14400 {
		t.Errorf("ExpiresIn = %d, want 14400", res.ExpiresIn)
	}
}

func TestUserTokenRefresherRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":400,"message":"Invalid refresh token"}`))
	}))
	defer server.Close()

	r := &UserTokenRefresher{
		ClientID:     "cid",
		ClientSecret: "secret",
		TokenURL:     server.URL,
		HTTPClient:   server.Client(),
	}
	_, err := r.Refresh(context.Background(), "revoked")
	if err == nil {
		t.Fatal("Refresh() error = nil, want rejection")
	}
	if !strings.Contains(err.Error(), "Invalid refresh token") {
		t.Errorf("error %v does not carry the response body", err)
	}
}

func TestUserTokenRefresherMissingInputs(t *testing.T) {
	r := &UserTokenRefresher{ClientID: "cid"}
	if _, err := r.Refresh(context.Background(), "tok"); err == nil {
		t.Error("Refresh() accepted a missing client secret")
	}
	r = &UserTokenRefresher{ClientID: "cid", ClientSecret: "secret"}
	if _, err := r.Refresh(context.Background(), ""); err == nil {
		t.Error("Refresh() accepted an empty refresh token")
	}
}

func TestComputeExpiry(t *testing.T) {
	now := time.Now()

	got := ComputeExpiry(3600)
	if d := got.Sub(now); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("ComputeExpiry(3600) = %v from now, want ~1h", d)
	}

	// Unknown lifetimes fall back to a conservative hour.
	got = ComputeExpiry(0)
	if d := got.Sub(now); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("ComputeExpiry(0) = %v from now, want ~1h", d)
	}
	got = ComputeExpiry(-5)
	if d := got.Sub(now); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("ComputeExpiry(-5) = %v from now, want ~1h", d)
	}
}
