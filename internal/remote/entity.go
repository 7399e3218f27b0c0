package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/erauner12/garagesync/internal/models"
)

// ListParams selects a page of a collection. Filters are sent as query
// parameters and matched exactly by the server.
type ListParams struct {
	Page    int
	Limit   int
	Filters map[string]any
}

// ListResponse is the paginated envelope of GET /api/{T}.
type ListResponse struct {
	Data  []models.Record `json:"data"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

// ItemURL joins a collection URL and an id.
func ItemURL(apiURL string, id int64) string {
	return strings.TrimRight(apiURL, "/") + "/" + strconv.FormatInt(id, 10)
}

// Create posts item to apiURL and returns the created record.
func (c *Client) Create(ctx context.Context, apiURL string, item models.Record) (models.Record, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, URL: apiURL, Body: body})
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp.Body)
}

// Get fetches apiURL/id. A missing record is a *StatusError with 404.
func (c *Client) Get(ctx context.Context, apiURL string, id int64) (models.Record, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, URL: ItemURL(apiURL, id)})
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp.Body)
}

// Update puts patch to apiURL/id. The answer may be empty or partial.
func (c *Client) Update(ctx context.Context, apiURL string, id int64, patch models.Record) (models.Record, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	resp, err := c.Do(ctx, Request{Method: http.MethodPut, URL: ItemURL(apiURL, id), Body: body})
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return models.Record{}, nil
	}
	return decodeRecord(resp.Body)
}

// Delete removes apiURL/id.
func (c *Client) Delete(ctx context.Context, apiURL string, id int64) error {
	_, err := c.Do(ctx, Request{Method: http.MethodDelete, URL: ItemURL(apiURL, id)})
	return err
}

// List fetches one page of apiURL.
func (c *Client) List(ctx context.Context, apiURL string, p ListParams) (*ListResponse, error) {
	params := url.Values{}
	keys := make([]string, 0, len(p.Filters))
	for k := range p.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params.Set(k, FormatFilterValue(p.Filters[k]))
	}
	if p.Page > 0 {
		params.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		params.Set("limit", strconv.Itoa(p.Limit))
	}

	target := apiURL
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, URL: target})
	if err != nil {
		return nil, err
	}

	var out ListResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode list response: %w", err)
	}
	if out.Data == nil {
		out.Data = []models.Record{}
	}
	return &out, nil
}

// FormatFilterValue renders a filter value as a query parameter.
func FormatFilterValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func decodeRecord(body []byte) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if rec == nil {
		rec = models.Record{}
	}
	return rec, nil
}
