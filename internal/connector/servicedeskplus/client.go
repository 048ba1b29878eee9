// Package servicedeskplus implements a connector.Connector against the
// ManageEngine ServiceDesk Plus REST API.
package servicedeskplus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const apiVersion = "v3"

// Client wraps the ServiceDesk Plus REST API, authenticating via the
// TECHNICIAN_KEY header (its equivalent of a PAT).
type Client struct {
	baseURL    string // e.g. https://sdp.acme.com
	techKey    string
	httpClient *http.Client
}

func NewClient(baseURL, techKey string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		techKey:    techKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) endpoint(segments ...string) string {
	u := fmt.Sprintf("%s/api/%s", c.baseURL, apiVersion)
	for _, seg := range segments {
		u += "/" + seg
	}
	return u
}

func (c *Client) do(ctx context.Context, method, path string, inputData map[string]interface{}) (map[string]interface{}, error) {
	var reader io.Reader
	if inputData != nil {
		values := url.Values{}
		payload, err := json.Marshal(map[string]interface{}{"request": inputData})
		if err != nil {
			return nil, fmt.Errorf("servicedeskplus: marshal request: %w", err)
		}
		values.Set("input_data", string(payload))
		reader = strings.NewReader(values.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return nil, fmt.Errorf("servicedeskplus: build request: %w", err)
	}
	if inputData != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("TECHNICIAN_KEY", c.techKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("servicedeskplus: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("servicedeskplus: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("servicedeskplus: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}

	var out map[string]interface{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("servicedeskplus: decode response: %w", err)
		}
	}
	return out, nil
}

func (c *Client) GetRequest(ctx context.Context, id string) (map[string]interface{}, error) {
	out, err := c.do(ctx, http.MethodGet, c.endpoint("requests", id), nil)
	if err != nil {
		return nil, err
	}
	req, _ := out["request"].(map[string]interface{})
	return req, nil
}

func (c *Client) ListRequests(ctx context.Context, filter map[string]interface{}) ([]map[string]interface{}, error) {
	listInfo := map[string]interface{}{"row_count": 100}
	for k, v := range filter {
		listInfo[k] = v
	}
	out, err := c.do(ctx, http.MethodGet, c.endpoint("requests")+"?input_data="+url.QueryEscape(mustJSON(map[string]interface{}{"list_info": listInfo})), nil)
	if err != nil {
		return nil, err
	}
	raw, _ := out["requests"].([]interface{})
	result := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]interface{}); ok {
			result = append(result, m)
		}
	}
	return result, nil
}

func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (c *Client) CreateRequest(ctx context.Context, fields map[string]interface{}) (map[string]interface{}, error) {
	out, err := c.do(ctx, http.MethodPost, c.endpoint("requests"), fields)
	if err != nil {
		return nil, err
	}
	req, _ := out["request"].(map[string]interface{})
	return req, nil
}

func (c *Client) UpdateRequest(ctx context.Context, id string, fields map[string]interface{}) (map[string]interface{}, error) {
	out, err := c.do(ctx, http.MethodPut, c.endpoint("requests", id), fields)
	if err != nil {
		return nil, err
	}
	req, _ := out["request"].(map[string]interface{})
	return req, nil
}

func (c *Client) DeleteRequest(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.endpoint("requests", id), nil)
	return err
}

func (c *Client) GetNotes(ctx context.Context, requestID string) ([]map[string]interface{}, error) {
	out, err := c.do(ctx, http.MethodGet, c.endpoint("requests", requestID, "notes"), nil)
	if err != nil {
		return nil, err
	}
	raw, _ := out["request_notes"].([]interface{})
	result := make([]map[string]interface{}, 0, len(raw))
	for _, n := range raw {
		if m, ok := n.(map[string]interface{}); ok {
			result = append(result, m)
		}
	}
	return result, nil
}

func (c *Client) AddNote(ctx context.Context, requestID, text string) (map[string]interface{}, error) {
	out, err := c.do(ctx, http.MethodPost, c.endpoint("requests", requestID, "notes"), map[string]interface{}{
		"request_note": map[string]interface{}{"description": text, "show_to_requester": true},
	})
	if err != nil {
		return nil, err
	}
	note, _ := out["request_note"].(map[string]interface{})
	return note, nil
}

func (c *Client) ListRequestTemplates(ctx context.Context) ([]map[string]interface{}, error) {
	out, err := c.do(ctx, http.MethodGet, c.endpoint("request_templates"), nil)
	if err != nil {
		return nil, err
	}
	raw, _ := out["request_templates"].([]interface{})
	result := make([]map[string]interface{}, 0, len(raw))
	for _, t := range raw {
		if m, ok := t.(map[string]interface{}); ok {
			result = append(result, m)
		}
	}
	return result, nil
}

func (c *Client) ListStatuses(ctx context.Context) ([]map[string]interface{}, error) {
	out, err := c.do(ctx, http.MethodGet, c.endpoint("statuses"), nil)
	if err != nil {
		return nil, err
	}
	raw, _ := out["statuses"].([]interface{})
	result := make([]map[string]interface{}, 0, len(raw))
	for _, s := range raw {
		if m, ok := s.(map[string]interface{}); ok {
			result = append(result, m)
		}
	}
	return result, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case string:
			return t
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case map[string]interface{}:
			if name, ok := t["name"].(string); ok {
				return name
			}
		}
	}
	return ""
}
