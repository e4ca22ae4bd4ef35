package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"leasecli/internal/config"
	"leasecli/internal/infrastructure"
)

const (
	actionLookup        = "lookup"
	actionClaim         = "claim"
	actionReportVersion = "report_version"

	errorCodeNotFound = "NOT_FOUND"

	maxRetryDelay   = 5 * time.Second
	maxResponseBody = 1 << 20
)

// authorityRequest is the JSON body posted to the authority endpoint
type authorityRequest struct {
	Action     string `json:"action"`
	Code       string `json:"code,omitempty"`
	HardwareID string `json:"hardware_id,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Version    string `json:"version,omitempty"`
}

// authorityResponse is the envelope every action answers with
type authorityResponse struct {
	Success   bool                 `json:"success"`
	Data      *RemoteLicenseRecord `json:"data,omitempty"`
	Error     string               `json:"error,omitempty"`
	ErrorCode string               `json:"error_code,omitempty"`
}

// HTTPAuthority talks to a script-style JSON endpoint that answers
// {"action": ..., "code": ...} posts.
type HTTPAuthority struct {
	url      string
	client   *http.Client
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// NewHTTPAuthority builds an authority client from configuration.
func NewHTTPAuthority(cfg config.AuthorityConfig, logger *slog.Logger) *HTTPAuthority {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}
	return &HTTPAuthority{
		url:      cfg.URL,
		client:   &http.Client{Timeout: cfg.Timeout},
		attempts: attempts,
		delay:    cfg.RetryDelay,
		logger:   infrastructure.WithComponent(logger, "http_authority"),
	}
}

func (a *HTTPAuthority) Lookup(ctx context.Context, key string) (*RemoteLicenseRecord, error) {
	return a.record(ctx, authorityRequest{Action: actionLookup, Code: key})
}

func (a *HTTPAuthority) Claim(ctx context.Context, key, hardwareID string) (*RemoteLicenseRecord, error) {
	return a.record(ctx, authorityRequest{Action: actionClaim, Code: key, HardwareID: hardwareID})
}

func (a *HTTPAuthority) ReportVersion(ctx context.Context, entityID, version string) error {
	resp, err := a.call(ctx, authorityRequest{Action: actionReportVersion, EntityID: entityID, Version: version})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("version report rejected: %s", resp.Error)
	}
	return nil
}

func (a *HTTPAuthority) record(ctx context.Context, req authorityRequest) (*RemoteLicenseRecord, error) {
	resp, err := a.call(ctx, req)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		if resp.ErrorCode == errorCodeNotFound {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("authority rejected %s: %s", req.Action, resp.Error)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("authority returned no record for %s", req.Action)
	}

	rec := *resp.Data
	rec.PrivilegeTier = ParseTier(string(rec.PrivilegeTier))
	return &rec, nil
}

// call posts req, retrying transport failures and non-200 answers. Application
// level rejections are returned in the envelope and never retried.
func (a *HTTPAuthority) call(ctx context.Context, req authorityRequest) (*authorityResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}

	var (
		resp    *authorityResponse
		attempt int
	)
	start := time.Now()

	err = retry.Do(func() error {
		attempt++
		r, err := a.post(ctx, body)
		if err != nil {
			a.logger.WarnContext(ctx, "Authority request failed",
				slog.String("action", req.Action),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return err
		}
		resp = r
		return nil
	}, retry.Context(ctx), retry.Attempts(a.attempts), retry.Delay(a.delay), retry.MaxDelay(maxRetryDelay))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("authority %s failed after %d attempts: %w", req.Action, attempt, err)
	}

	a.logger.DebugContext(ctx, "Authority request completed",
		slog.String("action", req.Action),
		slog.Bool("success", resp.Success),
		slog.Duration("duration", time.Since(start)))
	return resp, nil
}

func (a *HTTPAuthority) post(ctx context.Context, body []byte) (*authorityResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", config.AppVendor+"-license-client/"+config.AppVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authority returned status %d", httpResp.StatusCode)
	}

	var resp authorityResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}
