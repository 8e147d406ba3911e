// Package client is a Go client for the bondvault HTTP API. Write calls are
// signed with the caller's key so the server can attribute them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bondvault/internal/bond"
	"github.com/alanyoungcy/bondvault/internal/crypto"
	"github.com/alanyoungcy/bondvault/internal/domain"
)

// ErrNoSigner is returned by write calls on a client built without a key.
var ErrNoSigner = errors.New("client: a signing key is required for this call")

// Client talks to a bondvault server.
type Client struct {
	baseURL    string
	signer     *crypto.Signer
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithSigner signs every request with s.
func WithSigner(s *crypto.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithAPIKey sends the static API key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns the signing address, or the zero address when unsigned.
func (c *Client) Address() domain.Address {
	if c.signer == nil {
		return domain.Address{}
	}
	return c.signer.Address()
}

// APIError is a non-2xx response. It unwraps to the matching domain sentinel
// so callers can use errors.Is against domain errors.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Unwrap maps the response to a domain error.
func (e *APIError) Unwrap() error {
	if de, ok := domain.ErrorByCode(e.Code); ok {
		return de
	}
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusServiceUnavailable:
		return domain.ErrLockHeld
	}
	if e.Code == "Conflict" {
		return domain.ErrConflict
	}
	return nil
}

// CreateProjectRequest is the body of CreateProject.
type CreateProjectRequest struct {
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	MetadataURI   string    `json:"metadata_uri,omitempty"`
	TotalAmount   uint64    `json:"total_amount,string"`
	AnnualRateBps uint32    `json:"annual_rate_bps"`
	MaturityDate  time.Time `json:"maturity_date"`
}

type amountRequest struct {
	Amount uint64 `json:"amount,string"`
}

// CreateProject registers a project issued by the signing key.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (domain.BondProject, error) {
	var p domain.BondProject
	err := c.signed(ctx, http.MethodPost, "/api/projects", req, &p)
	return p, err
}

// ListProjects lists projects, newest first.
func (c *Client) ListProjects(ctx context.Context, opts domain.ListOpts) ([]domain.BondProject, error) {
	var out struct {
		Projects []domain.BondProject `json:"projects"`
	}
	err := c.get(ctx, "/api/projects"+listQuery(opts), &out)
	return out.Projects, err
}

// GetProject fetches one project.
func (c *Client) GetProject(ctx context.Context, id string) (domain.BondProject, error) {
	var p domain.BondProject
	err := c.get(ctx, "/api/projects/"+url.PathEscape(id), &p)
	return p, err
}

// Summary fetches the derived view of a project.
func (c *Client) Summary(ctx context.Context, id string) (bond.Summary, error) {
	var s bond.Summary
	err := c.get(ctx, "/api/projects/"+url.PathEscape(id)+"/summary", &s)
	return s, err
}

// ProjectClaims lists the claims issued by a project.
func (c *Client) ProjectClaims(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Claim, error) {
	var out struct {
		Claims []domain.Claim `json:"claims"`
	}
	err := c.get(ctx, "/api/projects/"+url.PathEscape(id)+"/claims"+listQuery(opts), &out)
	return out.Claims, err
}

// Events lists the event log of a project in commit order.
func (c *Client) Events(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Event, error) {
	var out struct {
		Events []domain.Event `json:"events"`
	}
	err := c.get(ctx, "/api/projects/"+url.PathEscape(id)+"/events"+listQuery(opts), &out)
	return out.Events, err
}

// Purchase buys amount units of a project and returns the new claim.
func (c *Client) Purchase(ctx context.Context, projectID string, amount uint64) (domain.Claim, error) {
	var cl domain.Claim
	err := c.signed(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/purchase", amountRequest{amount}, &cl)
	return cl, err
}

// Deposit adds amount to the redemption pool.
func (c *Client) Deposit(ctx context.Context, projectID string, amount uint64) (domain.BondProject, error) {
	return c.projectAction(ctx, projectID, "deposit", amountRequest{amount})
}

// Withdraw takes amount out of the raised funds.
func (c *Client) Withdraw(ctx context.Context, projectID string, amount uint64) (domain.BondProject, error) {
	return c.projectAction(ctx, projectID, "withdraw", amountRequest{amount})
}

// Pause stops sales on a project.
func (c *Client) Pause(ctx context.Context, projectID string) (domain.BondProject, error) {
	return c.projectAction(ctx, projectID, "pause", nil)
}

// Resume reopens sales on a paused project.
func (c *Client) Resume(ctx context.Context, projectID string) (domain.BondProject, error) {
	return c.projectAction(ctx, projectID, "resume", nil)
}

func (c *Client) projectAction(ctx context.Context, projectID, action string, body any) (domain.BondProject, error) {
	var p domain.BondProject
	err := c.signed(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/"+action, body, &p)
	return p, err
}

// GetClaim fetches one claim.
func (c *Client) GetClaim(ctx context.Context, id string) (domain.Claim, error) {
	var cl domain.Claim
	err := c.get(ctx, "/api/claims/"+url.PathEscape(id), &cl)
	return cl, err
}

// Preview projects the payout of a claim as of now.
func (c *Client) Preview(ctx context.Context, id string) (bond.Preview, error) {
	var pv bond.Preview
	err := c.get(ctx, "/api/claims/"+url.PathEscape(id)+"/preview", &pv)
	return pv, err
}

// Redeem pays out a matured claim held by the signing key.
func (c *Client) Redeem(ctx context.Context, id string) (domain.Claim, error) {
	var cl domain.Claim
	err := c.signed(ctx, http.MethodPost, "/api/claims/"+url.PathEscape(id)+"/redeem", nil, &cl)
	return cl, err
}

// OwnerClaims lists every claim held by owner.
func (c *Client) OwnerClaims(ctx context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Claim, error) {
	var out struct {
		Claims []domain.Claim `json:"claims"`
	}
	err := c.get(ctx, "/api/owners/"+owner.Hex()+"/claims"+listQuery(opts), &out)
	return out.Claims, err
}

// Archives lists the event archives in object storage.
func (c *Client) Archives(ctx context.Context) ([]domain.BlobInfo, error) {
	var out struct {
		Archives []domain.BlobInfo `json:"archives"`
	}
	err := c.get(ctx, "/api/archives", &out)
	return out.Archives, err
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.get(ctx, "/api/health", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, false, out)
}

func (c *Client) signed(ctx context.Context, method, path string, body, out any) error {
	if c.signer == nil {
		return ErrNoSigner
	}
	return c.do(ctx, method, path, body, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, body any, sign bool, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if sign {
		ts := c.now()
		nonce := uuid.NewString()
		sig, err := c.signer.SignRequest(method, req.URL.RequestURI(), ts, nonce, raw)
		if err != nil {
			return fmt.Errorf("client: sign request: %w", err)
		}
		req.Header.Set(crypto.HeaderAddress, c.signer.Address().Hex())
		req.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
		req.Header.Set(crypto.HeaderNonce, nonce)
		req.Header.Set(crypto.HeaderSignature, sig)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// checkHTTPStatus turns non-2xx responses into an *APIError.
func checkHTTPStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	apiErr := &APIError{Status: status}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Code = payload.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func listQuery(opts domain.ListOpts) string {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Since != nil {
		q.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}
	if opts.Until != nil {
		q.Set("until", opts.Until.UTC().Format(time.RFC3339))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
