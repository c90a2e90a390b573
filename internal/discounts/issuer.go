package discounts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrIssueUnavailable wraps any transport or upstream failure while issuing a
// code. Callers degrade gracefully: the popup flow continues without a code.
var ErrIssueUnavailable = errors.New("discount code issuance unavailable")

// Request describes one code issuance for a subscriber.
type Request struct {
	Shop       string `json:"shop"`
	Email      string `json:"email"`
	PrizeCode  string `json:"prize_code,omitempty"`
	PrizeLabel string `json:"prize_label,omitempty"`
}

// Issuer produces a merchant discount code for a captured subscriber.
type Issuer interface {
	Issue(ctx context.Context, req Request) (string, error)
}

// Static returns the same pre-configured code for every request. Used when a
// popup carries a fixed code in its settings.
type Static struct {
	Code string
}

func (s Static) Issue(_ context.Context, _ Request) (string, error) {
	return s.Code, nil
}

// HTTPIssuer requests a fresh single-use code from the merchant platform.
// Calls are bounded by a hard timeout so a slow upstream cannot stall the
// visitor flow.
type HTTPIssuer struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewHTTPIssuer(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPIssuer {
	return &HTTPIssuer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type issueResponse struct {
	Code string `json:"code"`
}

func (i *HTTPIssuer) Issue(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIssueUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIssueUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(httpReq)
	if err != nil {
		i.logger.Warn("Discount code request failed",
			slog.String("shop", req.Shop),
			slog.Any("error", err))
		return "", fmt.Errorf("%w: %v", ErrIssueUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		i.logger.Warn("Discount code request rejected",
			slog.String("shop", req.Shop),
			slog.Int("status", resp.StatusCode))
		return "", fmt.Errorf("%w: unexpected status %d", ErrIssueUnavailable, resp.StatusCode)
	}

	var decoded issueResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIssueUnavailable, err)
	}
	if decoded.Code == "" {
		return "", fmt.Errorf("%w: empty code in response", ErrIssueUnavailable)
	}
	return decoded.Code, nil
}
