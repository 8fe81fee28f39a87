// Package gateway is the typed HTTP client for the remote status gateway:
// the two status endpoints the polling controllers consume, plus the single
// multipart document submission. The gateway is external; this package never
// implements its behavior, only its contract.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/vecinoapp/vecino-core/pkg/metrics"
	"github.com/vecinoapp/vecino-core/pkg/models"
)

// Client calls the remote status gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a gateway client
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway base URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// GetVerificationStatus fetches the remote verification status for a
// subject. An unauthenticated response (401/403) is not an error here: the
// subject may be mid-registration on another device, so it maps to
// not_started. Transport failures are returned to the caller, which decides
// the retry policy.
func (c *Client) GetVerificationStatus(ctx context.Context, email string) (*models.VerificationStatusResponse, error) {
	start := time.Now()
	defer func() {
		metrics.GatewayLatency.WithLabelValues("verification_status").Observe(time.Since(start).Seconds())
	}()

	endpoint := c.baseURL + "/api/v1/verification/status"
	if email != "" {
		endpoint += "?email=" + url.QueryEscape(email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build verification status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch verification status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &models.VerificationStatusResponse{Status: models.VerificationNotStarted}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verification status: unexpected status %d", resp.StatusCode)
	}

	var out models.VerificationStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode verification status: %w", err)
	}
	return &out, nil
}

// SubmitVerificationRequest carries the three capture artifacts and the
// optional subject email. All three artifacts travel in ONE multipart body.
type SubmitVerificationRequest struct {
	IDFront   []byte
	IDBack    []byte
	FacePhoto []byte
	Email     string
}

// SubmitVerification sends the captured documents as a single
// multipart/form-data request.
func (c *Client) SubmitVerification(ctx context.Context, req *SubmitVerificationRequest) (*models.SubmitVerificationResponse, error) {
	if len(req.IDFront) == 0 || len(req.IDBack) == 0 || len(req.FacePhoto) == 0 {
		return nil, fmt.Errorf("verification submit requires front, back and face artifacts")
	}

	start := time.Now()
	defer func() {
		metrics.GatewayLatency.WithLabelValues("verification_submit").Observe(time.Since(start).Seconds())
	}()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, part := range []struct {
		field string
		name  string
		data  []byte
	}{
		{"idFront", "id_front.jpg", req.IDFront},
		{"idBack", "id_back.jpg", req.IDBack},
		{"facePhoto", "face.jpg", req.FacePhoto},
	} {
		fw, err := writer.CreateFormFile(part.field, part.name)
		if err != nil {
			return nil, fmt.Errorf("create form file %s: %w", part.field, err)
		}
		if _, err := fw.Write(part.data); err != nil {
			return nil, fmt.Errorf("write form file %s: %w", part.field, err)
		}
	}
	if req.Email != "" {
		if err := writer.WriteField("email", req.Email); err != nil {
			return nil, fmt.Errorf("write email field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/verification/documents", body)
	if err != nil {
		return nil, fmt.Errorf("build verification submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit verification documents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("verification submit rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", payload))
		return nil, fmt.Errorf("verification submit: unexpected status %d", resp.StatusCode)
	}

	var out models.SubmitVerificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode verification submit response: %w", err)
	}
	return &out, nil
}

// GetPaymentStatus resolves a payment ticket by its return-URL token. An
// unknown status string decodes without error and stays non-terminal, so a
// growing gateway vocabulary keeps the poll alive instead of crashing it.
func (c *Client) GetPaymentStatus(ctx context.Context, token string) (*models.PaymentTicket, error) {
	if token == "" {
		return nil, fmt.Errorf("payment status requires a token")
	}

	start := time.Now()
	defer func() {
		metrics.GatewayLatency.WithLabelValues("payment_status").Observe(time.Since(start).Seconds())
	}()

	endpoint := c.baseURL + "/api/v1/payments/status?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build payment status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch payment status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment status: unexpected status %d", resp.StatusCode)
	}

	var ticket models.PaymentTicket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		return nil, fmt.Errorf("decode payment status: %w", err)
	}
	ticket.Token = token
	return &ticket, nil
}
