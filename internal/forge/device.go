package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultDeviceCodeURL  = "https://github.com/login/device/code"
	defaultAccessTokenURL = "https://github.com/login/oauth/access_token"
	deviceFlowScope       = "repo user"
)

// DeviceAuthorization is the user-facing half of a device flow: the code to
// type and where to type it.
type DeviceAuthorization struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// DeviceFlow drives GitHub's OAuth device authorization grant.
type DeviceFlow struct {
	httpClient *http.Client
	logger     *slog.Logger
	clientID   string

	codeURL      string
	tokenURL     string
	slowDownStep time.Duration
}

// NewDeviceFlow creates a flow for the given OAuth app client id.
func NewDeviceFlow(clientID string, logger *slog.Logger) *DeviceFlow {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceFlow{
		httpClient:   &http.Client{Timeout: forgeHTTPTimeout},
		logger:       logger,
		clientID:     clientID,
		codeURL:      defaultDeviceCodeURL,
		tokenURL:     defaultAccessTokenURL,
		slowDownStep: 5 * time.Second,
	}
}

func (f *DeviceFlow) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("device flow status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Start requests a device and user code pair.
func (f *DeviceFlow) Start(ctx context.Context) (*DeviceAuthorization, error) {
	form := url.Values{
		"client_id": {f.clientID},
		"scope":     {deviceFlowScope},
	}
	var auth DeviceAuthorization
	if err := f.postForm(ctx, f.codeURL, form, &auth); err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	if auth.Interval <= 0 {
		auth.Interval = 5
	}
	return &auth, nil
}

// Poll waits for the user to authorize the device and returns the access
// token. It polls at the server-dictated interval, backing off on
// slow_down, until the context is cancelled or the code expires.
func (f *DeviceFlow) Poll(ctx context.Context, auth *DeviceAuthorization) (string, error) {
	interval := time.Duration(auth.Interval) * time.Second
	deadline := time.Now().Add(time.Duration(auth.ExpiresIn) * time.Second)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return "", fmt.Errorf("device code expired before authorization")
		}

		form := url.Values{
			"client_id":   {f.clientID},
			"device_code": {auth.DeviceCode},
			"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		}
		var result struct {
			AccessToken string `json:"access_token"`
			Error       string `json:"error"`
			ErrorDesc   string `json:"error_description"`
		}
		if err := f.postForm(ctx, f.tokenURL, form, &result); err != nil {
			return "", fmt.Errorf("poll access token: %w", err)
		}

		switch {
		case result.AccessToken != "":
			return result.AccessToken, nil
		case result.Error == "authorization_pending":
			continue
		case result.Error == "slow_down":
			interval += f.slowDownStep
			continue
		case result.Error != "":
			return "", fmt.Errorf("device flow: %s: %s", result.Error, result.ErrorDesc)
		}
	}
}
