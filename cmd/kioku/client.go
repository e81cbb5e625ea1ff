package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// apiClient talks to a running `kioku serve`. Commands use it when --server is
// set so they do not contend with the server for the keyword index lock.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(serverURL string) *apiClient {
	return &apiClient{
		base: strings.TrimSuffix(serverURL, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// apiError is an error response from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) TextSearch(ctx context.Context, query string, limit int, itemType string, fuzzy bool) ([]*models.SearchResult, error) {
	v := url.Values{"q": {query}, "limit": {fmt.Sprint(limit)}}
	if itemType != "" {
		v.Set("type", itemType)
	}
	if fuzzy {
		v.Set("fuzzy", "true")
	}
	var resp struct {
		Results []*models.SearchResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/search/text?"+v.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// addResponse mirrors the create and update record responses.
type addResponse struct {
	Record  *models.Record `json:"record"`
	Indexed bool           `json:"indexed"`
	Error   string         `json:"error,omitempty"`
}

func (c *apiClient) AddRecord(ctx context.Context, in *models.RecordInput) (*addResponse, error) {
	var resp addResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/records", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) DeleteRecord(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/records/%d", id), nil, nil)
}

func (c *apiClient) SetCompleted(ctx context.Context, id int64, completed bool) (*models.Record, error) {
	action := "complete"
	if !completed {
		action = "reopen"
	}
	var rec models.Record
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/records/%d/%s", id, action), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *apiClient) ListRecords(ctx context.Context, f models.ListFilter) ([]*models.Record, error) {
	v := url.Values{}
	if f.Type != "" {
		v.Set("type", string(f.Type))
	}
	if f.PendingOnly {
		v.Set("pending", "true")
	}
	if f.Limit > 0 {
		v.Set("limit", fmt.Sprint(f.Limit))
	}
	var resp struct {
		Records []*models.Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/records?"+v.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *apiClient) Rebuild(ctx context.Context) (*models.RebuildReport, error) {
	var report models.RebuildReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/index/rebuild", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *apiClient) Stats(ctx context.Context, out any) error {
	return c.do(ctx, http.MethodGet, "/api/v1/index/stats", nil, out)
}
