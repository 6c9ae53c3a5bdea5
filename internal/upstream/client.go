// Package upstream implements the client for the third-party reporting API.
//
// The upstream exposes an asynchronous report model: submit a report request,
// poll its status, then page through results once it completes. Metadata and
// serving-status lookups are separate batch endpoints with their own rate
// limits. All failures are translated into the application error taxonomy so
// callers never branch on HTTP status codes.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/domain/model"
	apperrors "github.com/adsync/adsync/internal/errors"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 500

	// recentSubmissionLimit bounds the in-memory submission correlation map.
	recentSubmissionLimit = 1000
)

// Options configures the upstream Client.
type Options struct {
	BaseURL     string
	TokenSource oauth2.TokenSource
	HTTPClient  *http.Client
	Logger      *slog.Logger
	PageSize    int
}

// Client talks to the upstream reporting API.
type Client struct {
	baseURL     string
	tokenSource oauth2.TokenSource
	httpClient  *http.Client
	logger      *slog.Logger
	pageSize    int

	mu     sync.Mutex
	recent map[string]model.ReportRequest
}

// NewClient creates an upstream Client from options.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("upstream base URL is required")
	}
	if opts.TokenSource == nil {
		return nil, errors.New("upstream token source is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		tokenSource: opts.TokenSource,
		httpClient:  httpClient,
		logger:      logger.With("component", "upstream_client"),
		pageSize:    pageSize,
		recent:      make(map[string]model.ReportRequest),
	}, nil
}

var _ core.ReportClient = (*Client)(nil)

// StartReport submits a report request and returns the upstream handle. The
// request carries a client-generated idempotency key so an ambiguous network
// failure can be retried without double-submitting.
func (c *Client) StartReport(ctx context.Context, req model.ReportRequest) (string, error) {
	body := startReportBody{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Filters:   req.Filters,
	}

	idempotencyKey := uuid.NewString()
	var resp startReportResponse
	err := c.doJSON(ctx, jsonCall{
		Method:         http.MethodPost,
		Path:           "/v2/reports",
		Body:           body,
		IdempotencyKey: idempotencyKey,
		Out:            &resp,
	})
	if err != nil {
		return "", fmt.Errorf("start report: %w", err)
	}
	if resp.ReportID == "" {
		return "", apperrors.UpstreamTransient("upstream returned an empty report id")
	}

	c.rememberSubmission(resp.ReportID, req)
	c.logger.InfoContext(ctx, "report submitted",
		"report_id", resp.ReportID,
		"idempotency_key", idempotencyKey,
		"start_date", req.StartDate,
		"end_date", req.EndDate)
	return resp.ReportID, nil
}

// GetReportStatus fetches the upstream-side state of a submitted report.
func (c *Client) GetReportStatus(ctx context.Context, handle string) (*model.ReportStatus, error) {
	if handle == "" {
		return nil, apperrors.Validation("report handle is required")
	}

	var resp reportStatusResponse
	err := c.doJSON(ctx, jsonCall{
		Method: http.MethodGet,
		Path:   "/v2/reports/" + handle,
		Out:    &resp,
	})
	if err != nil {
		return nil, fmt.Errorf("get report status: %w", err)
	}

	return &model.ReportStatus{
		State:   mapReportState(resp.Status),
		Percent: resp.PercentComplete,
		Error:   resp.StatusDetails,
	}, nil
}

// GetPage fetches one page of report results. An empty cursor requests the
// first page.
func (c *Client) GetPage(ctx context.Context, handle, cursor string) (*model.ReportPage, error) {
	if handle == "" {
		return nil, apperrors.Validation("report handle is required")
	}

	path := fmt.Sprintf("/v2/reports/%s/results?pageSize=%d", handle, c.pageSize)
	if cursor != "" {
		path += "&cursor=" + cursor
	}

	var resp reportPageResponse
	err := c.doJSON(ctx, jsonCall{
		Method: http.MethodGet,
		Path:   path,
		Out:    &resp,
	})
	if err != nil {
		return nil, fmt.Errorf("get report page: %w", err)
	}

	page := &model.ReportPage{
		Rows:       make([]model.ReportRow, 0, len(resp.Rows)),
		NextCursor: resp.NextCursor,
	}
	for _, raw := range resp.Rows {
		row, decodeErr := decodeReportRow(raw)
		if decodeErr != nil {
			return nil, fmt.Errorf("decode report row: %w", decodeErr)
		}
		page.Rows = append(page.Rows, row)
	}
	return page, nil
}

// GetCreativeMetadata fetches heavy metadata for a batch of creative names.
// An oversized batch comes back as rate_limited; callers split and retry.
func (c *Client) GetCreativeMetadata(ctx context.Context, names []string) ([]model.CreativeMeta, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var resp creativeMetadataResponse
	err := c.doJSON(ctx, jsonCall{
		Method: http.MethodPost,
		Path:   "/v2/creatives/search",
		Body:   creativeMetadataBody{Names: names},
		Out:    &resp,
	})
	if err != nil {
		return nil, fmt.Errorf("get creative metadata: %w", err)
	}

	metas := make([]model.CreativeMeta, 0, len(resp.Creatives))
	for _, cr := range resp.Creatives {
		metas = append(metas, model.CreativeMeta{
			Name:           cr.Name,
			Title:          cr.Title,
			ImageURL:       cr.ImageURL,
			DestinationURL: cr.DestinationURL,
			Category:       cr.Category,
		})
	}
	return metas, nil
}

// GetAdStatuses fetches serving status for a batch of ad ids.
func (c *Client) GetAdStatuses(ctx context.Context, adIDs []string) ([]model.AdStatus, error) {
	if len(adIDs) == 0 {
		return nil, nil
	}

	var resp adStatusResponse
	err := c.doJSON(ctx, jsonCall{
		Method: http.MethodPost,
		Path:   "/v2/ads/status",
		Body:   adStatusBody{AdIDs: adIDs},
		Out:    &resp,
	})
	if err != nil {
		return nil, fmt.Errorf("get ad statuses: %w", err)
	}

	statuses := make([]model.AdStatus, 0, len(resp.Statuses))
	for _, st := range resp.Statuses {
		statuses = append(statuses, model.AdStatus{AdID: st.AdID, State: st.State})
	}
	return statuses, nil
}

// SubmittedRequest returns the original request parameters for a handle
// submitted through this client instance, if still tracked. Durable recovery
// reads the job config instead; this exists for log correlation.
func (c *Client) SubmittedRequest(handle string) (model.ReportRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.recent[handle]
	return req, ok
}

func (c *Client) rememberSubmission(handle string, req model.ReportRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recent) >= recentSubmissionLimit {
		// Drop an arbitrary entry; this map is best-effort correlation only.
		for k := range c.recent {
			delete(c.recent, k)
			break
		}
	}
	c.recent[handle] = req
}

type jsonCall struct {
	Method         string
	Path           string
	Body           any
	IdempotencyKey string
	Out            any
}

func (c *Client) doJSON(ctx context.Context, call jsonCall) error {
	token, err := c.tokenSource.Token()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUpstreamAuth, "retrieve upstream token")
	}

	var bodyReader io.Reader
	if call.Body != nil {
		raw, marshalErr := json.Marshal(call.Body)
		if marshalErr != nil {
			return fmt.Errorf("marshal request body: %w", marshalErr)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, c.baseURL+call.Path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if call.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", call.IdempotencyKey)
	}
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCanceled, "upstream call canceled")
		}
		return apperrors.Wrap(err, apperrors.ErrCodeUpstreamTransient, "upstream request failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.mapHTTPError(resp)
	}

	if call.Out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(call.Out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUpstreamTransient, "decode upstream response")
	}
	return nil
}

// mapHTTPError translates an upstream failure response into the application
// error taxonomy.
func (c *Client) mapHTTPError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body upstreamErrorBody
	_ = json.Unmarshal(raw, &body)
	detail := body.Message
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	if detail == "" {
		detail = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.UpstreamAuth("upstream rejected credentials: " + detail)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestEntityTooLarge:
		return apperrors.RateLimited("upstream throttled request: " + detail)
	case resp.StatusCode == http.StatusBadRequest && isPayloadTooLarge(body.Code, detail):
		// Some upstream endpoints report oversized batch payloads as a 400
		// with a dedicated code rather than a 413.
		return apperrors.RateLimited("upstream rejected payload size: " + detail)
	case resp.StatusCode >= http.StatusInternalServerError:
		return apperrors.UpstreamTransient("upstream server error: " + detail)
	default:
		return apperrors.Internalf("unexpected upstream response %d: %s", resp.StatusCode, detail)
	}
}

func isPayloadTooLarge(code, detail string) bool {
	if strings.EqualFold(code, "TOO_MUCH_DATA") {
		return true
	}
	lower := strings.ToLower(detail)
	return strings.Contains(lower, "too large") || strings.Contains(lower, "reduce the amount of data")
}

func mapReportState(status string) model.ReportState {
	switch strings.ToUpper(status) {
	case "SUCCESS", "COMPLETED", "DONE":
		return model.ReportStateCompleted
	case "FAILURE", "FAILED", "ERROR":
		return model.ReportStateFailed
	default:
		return model.ReportStateRunning
	}
}

func decodeReportRow(raw json.RawMessage) (model.ReportRow, error) {
	var wire reportRowWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return model.ReportRow{}, err
	}
	return model.ReportRow{
		AdID:        wire.AdID,
		Name:        wire.CreativeName,
		CampaignID:  wire.CampaignID,
		AdGroupID:   wire.AdGroupID,
		Date:        wire.Date,
		Impressions: wire.Impressions,
		Clicks:      wire.Clicks,
		CostMicros:  wire.CostMicros,
		Conversions: wire.Conversions,
		Raw:         append(json.RawMessage(nil), raw...),
	}, nil
}

// Wire types. Kept unexported: nothing outside this package should depend on
// the upstream JSON shapes.

type startReportBody struct {
	StartDate string            `json:"startDate"`
	EndDate   string            `json:"endDate"`
	Filters   map[string]string `json:"filters,omitempty"`
}

type startReportResponse struct {
	ReportID string `json:"reportId"`
}

type reportStatusResponse struct {
	Status          string `json:"status"`
	StatusDetails   string `json:"statusDetails,omitempty"`
	PercentComplete int    `json:"percentComplete"`
}

type reportRowWire struct {
	AdID         string `json:"adId"`
	CreativeName string `json:"creativeName"`
	CampaignID   string `json:"campaignId"`
	AdGroupID    string `json:"adGroupId"`
	Date         string `json:"date"`
	Impressions  int64  `json:"impressions"`
	Clicks       int64  `json:"clicks"`
	CostMicros   int64  `json:"costMicros"`
	Conversions  int64  `json:"conversions"`
}

type reportPageResponse struct {
	Rows       []json.RawMessage `json:"rows"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

type creativeMetadataBody struct {
	Names []string `json:"names"`
}

type creativeMetadataResponse struct {
	Creatives []struct {
		Name           string `json:"name"`
		Title          string `json:"title"`
		ImageURL       string `json:"imageUrl"`
		DestinationURL string `json:"destinationUrl"`
		Category       string `json:"category"`
	} `json:"creatives"`
}

type adStatusBody struct {
	AdIDs []string `json:"adIds"`
}

type adStatusResponse struct {
	Statuses []struct {
		AdID  string `json:"adId"`
		State string `json:"state"`
	} `json:"statuses"`
}

type upstreamErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
