// REST implementation of [RecordStore]
//
// Endpoints:
//
//	GET    /records/{type}/{id}
//	PATCH  /records/{type}/{id}
//	DELETE /records/{type}/{id}
//	POST   /records/{type}
//	POST   /records/{type}/query
//	POST   /composite/{type}
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	defaultRateLimit = 10.0
	defaultTimeout   = 30 * time.Second
)

// RequestObserver receives the duration of every store request, keyed by operation name.
type RequestObserver func(op string, d time.Duration)

// RESTStore talks to a record store over its REST API.
// Every request waits on a token-bucket limiter before it is sent.
type RESTStore struct {
	name        string
	baseURL     string
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	limiter     *rate.Limiter
	logger      *log.Logger
	observe     RequestObserver
}

// createResult is the wire form of one create outcome.
type createResult struct {
	ID      string     `json:"id"`
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
}

type queryResponse struct {
	Records []map[string]any `json:"records"`
}

// NewRESTStore builds a store client from its configuration.
//
// Client credentials (client_id, client_secret, token_url) take precedence over a static token.
// With neither, requests are sent unauthenticated.
func NewRESTStore(ctx context.Context, cfg shared.StoreConfig, logger *log.Logger) (*RESTStore, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base_url is required for store %q", shared.ErrMissingConfig, cfg.Name)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
	}

	var (
		client *http.Client
		ts     oauth2.TokenSource
	)
	switch {
	case cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.TokenURL != "":
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ts = cc.TokenSource(ctx)
		client = oauth2.NewClient(ctx, ts)
	case cfg.Token != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		client = oauth2.NewClient(ctx, ts)
	default:
		client = &http.Client{}
	}

	timeout := defaultTimeout
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	client.Timeout = timeout

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = defaultRateLimit
	}

	if logger == nil {
		logger = log.Default()
	}

	return &RESTStore{
		name:        cfg.Name,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  client,
		tokenSource: ts,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		logger:      logger.WithPrefix(cfg.Name),
	}, nil
}

func (s *RESTStore) Name() string { return s.name }

// SetObserver installs a request duration observer.
func (s *RESTStore) SetObserver(o RequestObserver) { s.observe = o }

// Token fetches an access token from the configured token source.
func (s *RESTStore) Token() (*oauth2.Token, error) {
	if s.tokenSource == nil {
		return nil, fmt.Errorf("%w: store %q has no credentials", shared.ErrMissingCredentials, s.name)
	}
	tok, err := s.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}
	return tok, nil
}

// doRequest performs a rate-limited request and decodes a 2xx JSON body into result.
// Non-2xx responses are returned as [*StoreError].
func (s *RESTStore) doRequest(ctx context.Context, op, method, endpoint string, body, result any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrTimeout, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if s.observe != nil {
		s.observe(op, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	s.logger.Debug("store request", "op", op, "method", method, "path", endpoint, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// decodeError accepts either a list of errors or an object with an "errors" list.
func decodeError(status int, raw []byte) *StoreError {
	var list []apiError
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return fromAPIErrors(status, list)
	}
	var wrapped struct {
		Errors []apiError `json:"errors"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Errors) > 0 {
		return fromAPIErrors(status, wrapped.Errors)
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return NewStoreError(status, "", msg)
}

func recordPath(recordType, id string) string {
	p := "/records/" + url.PathEscape(recordType)
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func toSourceRecord(recordType string, fields map[string]any) models.SourceRecord {
	id, _ := fields["Id"].(string)
	return models.NewSourceRecord(recordType, id, fields)
}

// Fetch retrieves one record by id.
func (s *RESTStore) Fetch(ctx context.Context, recordType, id string) (models.SourceRecord, error) {
	var fields map[string]any
	if err := s.doRequest(ctx, "fetch", http.MethodGet, recordPath(recordType, id), nil, &fields); err != nil {
		return models.SourceRecord{}, fmt.Errorf("fetch %s %s: %w", recordType, id, err)
	}
	rec := toSourceRecord(recordType, fields)
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, nil
}

// Query retrieves records matching q.
func (s *RESTStore) Query(ctx context.Context, recordType string, q Query) ([]models.SourceRecord, error) {
	var resp queryResponse
	if err := s.doRequest(ctx, "query", http.MethodPost, recordPath(recordType, "")+"/query", q, &resp); err != nil {
		return nil, fmt.Errorf("query %s: %w", recordType, err)
	}
	records := make([]models.SourceRecord, 0, len(resp.Records))
	for _, fields := range resp.Records {
		records = append(records, toSourceRecord(recordType, fields))
	}
	return records, nil
}

// Create inserts one record.
func (s *RESTStore) Create(ctx context.Context, recordType string, data map[string]any) (string, error) {
	var res createResult
	if err := s.doRequest(ctx, "create", http.MethodPost, recordPath(recordType, ""), data, &res); err != nil {
		return "", err
	}
	if !res.Success || res.ID == "" {
		return "", fromAPIErrors(http.StatusBadRequest, res.Errors)
	}
	return res.ID, nil
}

// CreateBatch inserts records in one composite call.
func (s *RESTStore) CreateBatch(ctx context.Context, recordType string, data []map[string]any) ([]BatchResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	body := map[string]any{"allOrNone": false, "records": data}

	var results []createResult
	if err := s.doRequest(ctx, "create_batch", http.MethodPost, "/composite/"+url.PathEscape(recordType), body, &results); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrBatchFailed, err)
	}
	if len(results) != len(data) {
		return nil, fmt.Errorf("%w: expected %d results, got %d", shared.ErrBatchFailed, len(data), len(results))
	}

	out := make([]BatchResult, len(results))
	for i, r := range results {
		if r.Success && r.ID != "" {
			out[i] = BatchResult{ID: r.ID}
			continue
		}
		out[i] = BatchResult{Err: fromAPIErrors(http.StatusBadRequest, r.Errors)}
	}
	return out, nil
}

// Update sets fields on an existing record.
func (s *RESTStore) Update(ctx context.Context, recordType, id string, data map[string]any) error {
	return s.doRequest(ctx, "update", http.MethodPatch, recordPath(recordType, id), data, nil)
}

// Exists reports whether the record exists.
func (s *RESTStore) Exists(ctx context.Context, recordType, id string) (bool, error) {
	err := s.doRequest(ctx, "exists", http.MethodGet, recordPath(recordType, id)+"?fields=Id", nil, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, shared.ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Delete removes a record.
func (s *RESTStore) Delete(ctx context.Context, recordType, id string) error {
	return s.doRequest(ctx, "delete", http.MethodDelete, recordPath(recordType, id), nil, nil)
}
