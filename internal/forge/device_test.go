package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestDeviceFlowStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.Form.Get("client_id"); got != "client-1" {
			t.Errorf("client_id = %q", got)
		}
		if got := r.Form.Get("scope"); got != "repo user" {
			t.Errorf("scope = %q", got)
		}
		fmt.Fprint(w, `{"device_code": "dev-1", "user_code": "ABCD-1234",
			"verification_uri": "https://github.com/login/device", "expires_in": 900, "interval": 5}`)
	}))
	defer srv.Close()

	f := NewDeviceFlow("client-1", nil)
	f.codeURL = srv.URL

	auth, err := f.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if auth.UserCode != "ABCD-1234" || auth.DeviceCode != "dev-1" {
		t.Errorf("auth = %+v", auth)
	}
	if auth.Interval != 5 {
		t.Errorf("Interval = %d, want 5", auth.Interval)
	}
}

func TestDeviceFlowPoll(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			fmt.Fprint(w, `{"error": "authorization_pending"}`)
		case 2:
			fmt.Fprint(w, `{"error": "slow_down"}`)
		default:
			fmt.Fprint(w, `{"access_token": "gho_token", "token_type": "bearer"}`)
		}
	}))
	defer srv.Close()

	f := NewDeviceFlow("client-1", nil)
	f.tokenURL = srv.URL
	f.slowDownStep = 0

	token, err := f.Poll(context.Background(), &DeviceAuthorization{DeviceCode: "dev-1", ExpiresIn: 60})
	if err != nil {
		t.Fatal(err)
	}
	if token != "gho_token" {
		t.Errorf("token = %q", token)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDeviceFlowPollDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "access_denied", "error_description": "user said no"}`)
	}))
	defer srv.Close()

	f := NewDeviceFlow("client-1", nil)
	f.tokenURL = srv.URL

	_, err := f.Poll(context.Background(), &DeviceAuthorization{DeviceCode: "dev-1", ExpiresIn: 60})
	if err == nil {
		t.Fatal("denied flow succeeded")
	}
}

func TestDeviceFlowPollHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "authorization_pending"}`)
	}))
	defer srv.Close()

	f := NewDeviceFlow("client-1", nil)
	f.tokenURL = srv.URL

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Poll(ctx, &DeviceAuthorization{DeviceCode: "dev-1", ExpiresIn: 60}); err == nil {
		t.Fatal("cancelled poll succeeded")
	}
}
