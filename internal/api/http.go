package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mpoliveira/medtrack/internal/common"
	"github.com/mpoliveira/medtrack/internal/models"
)

const (
	requestTimeout    = 10 * time.Second
	transientAttempts = 2
	transientBackoff  = 200 * time.Millisecond
)

// HTTPClient implements Client against the backend REST API. Transport
// failures and 5xx responses are retried a couple of times with fibonacci
// backoff before being reported; everything else maps straight to the common
// error taxonomy.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// NewHTTPClient returns an HTTPClient rooted at baseURL. tokens may be nil
// until a session exists; public endpoints (ping, login, refresh) never
// consult it.
func NewHTTPClient(baseURL string, tokens TokenSource) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		tokens:  tokens,
	}
}

// SetTokenSource wires the credential provider after construction. Needed
// because the auth service itself calls Login/Refresh on this client.
func (c *HTTPClient) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any, authed bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(transientAttempts, retry.NewFibonacci(transientBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if authed {
			token, err := c.tokens.Token(ctx)
			if err != nil {
				return fmt.Errorf("%w: %v", common.ErrUnauthorized, err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", common.ErrNetworkUnavailable, err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return common.ErrUnauthorized
		case resp.StatusCode == http.StatusNotFound:
			return common.ErrNotFound
		case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("%w: %s", common.ErrValidationRejected, strings.TrimSpace(string(b)))
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("%w: server returned %s", common.ErrNetworkUnavailable, resp.Status))
		default:
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
	})
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, nil, false)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"senha"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (c *HTTPClient) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/login", loginRequest{Email: email, Password: password}, &s, false); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/refresh", refreshRequest{RefreshToken: refreshToken}, &s, false); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) CreateMedication(ctx context.Context, req models.MedicationRequest) (*models.RemoteMedication, error) {
	var out models.RemoteMedication
	if err := c.do(ctx, http.MethodPost, "/medicamentos", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateMedication(ctx context.Context, serverID int64, req models.MedicationRequest) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/medicamentos/%d", serverID), req, nil, true)
}

func (c *HTTPClient) DeleteMedication(ctx context.Context, serverID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/medicamentos/%d", serverID), nil, nil, true)
}

func (c *HTTPClient) ListMedications(ctx context.Context) ([]models.RemoteMedication, error) {
	var out []models.RemoteMedication
	if err := c.do(ctx, http.MethodGet, "/medicamentos", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateAdministration(ctx context.Context, req models.AdministrationRequest) (*models.RemoteAdministration, error) {
	var out models.RemoteAdministration
	if err := c.do(ctx, http.MethodPost, "/ministra", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateAdministration(ctx context.Context, serverID int64, req models.AdministrationRequest) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/ministra/%d", serverID), req, nil, true)
}

func (c *HTTPClient) DeleteAdministration(ctx context.Context, serverID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/ministra/%d", serverID), nil, nil, true)
}

func (c *HTTPClient) ListAdministrations(ctx context.Context) ([]models.RemoteAdministration, error) {
	var out []models.RemoteAdministration
	if err := c.do(ctx, http.MethodGet, "/ministra", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateTip(ctx context.Context, req models.TipRequest) (*models.RemoteTip, error) {
	var out models.RemoteTip
	if err := c.do(ctx, http.MethodPost, "/dicas", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateTip(ctx context.Context, serverID int64, req models.TipRequest) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/dicas/%d", serverID), req, nil, true)
}

func (c *HTTPClient) DeleteTip(ctx context.Context, serverID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/dicas/%d", serverID), nil, nil, true)
}

func (c *HTTPClient) ListTips(ctx context.Context) ([]models.RemoteTip, error) {
	var out []models.RemoteTip
	if err := c.do(ctx, http.MethodGet, "/dicas", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateFAQ(ctx context.Context, req models.FAQRequest) (*models.RemoteFAQ, error) {
	var out models.RemoteFAQ
	if err := c.do(ctx, http.MethodPost, "/faqs", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateFAQ(ctx context.Context, serverID int64, req models.FAQRequest) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/faqs/%d", serverID), req, nil, true)
}

func (c *HTTPClient) DeleteFAQ(ctx context.Context, serverID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/faqs/%d", serverID), nil, nil, true)
}

func (c *HTTPClient) ListFAQs(ctx context.Context) ([]models.RemoteFAQ, error) {
	var out []models.RemoteFAQ
	if err := c.do(ctx, http.MethodGet, "/faqs", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateInteraction(ctx context.Context, req models.InteractionRequest) (*models.RemoteInteraction, error) {
	var out models.RemoteInteraction
	if err := c.do(ctx, http.MethodPost, "/interacoes", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateInteraction(ctx context.Context, key models.InteractionKey, req models.InteractionRequest) error {
	k := key.Normalize()
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/interacoes/%d/%d", k.MedAID, k.MedBID), req, nil, true)
}

func (c *HTTPClient) DeleteInteraction(ctx context.Context, key models.InteractionKey) error {
	k := key.Normalize()
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/interacoes/%d/%d", k.MedAID, k.MedBID), nil, nil, true)
}

func (c *HTTPClient) ListInteractions(ctx context.Context) ([]models.RemoteInteraction, error) {
	var out []models.RemoteInteraction
	if err := c.do(ctx, http.MethodGet, "/interacoes", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}
