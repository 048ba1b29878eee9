// Package azuredevops implements a connector.Connector against the Azure
// DevOps Work Item Tracking REST API.
package azuredevops

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
)

const apiVersion = "7.1"

// Client is a thin REST wrapper around the Azure DevOps work item API,
// authenticating with a personal access token over HTTP basic auth.
type Client struct {
	baseURL    string // e.g. https://dev.azure.com/myorg
	project    string
	pat        string
	httpClient *http.Client
}

func NewClient(baseURL, project, pat string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		project:    project,
		pat:        pat,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type workItem struct {
	ID     int                    `json:"id"`
	Rev    int                    `json:"rev"`
	Fields map[string]interface{} `json:"fields"`
	URL    string                 `json:"url"`
}

type workItemList struct {
	Count int        `json:"count"`
	Value []workItem `json:"value"`
}

type wiqlResult struct {
	WorkItems []struct {
		ID int `json:"id"`
	} `json:"workItems"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("azuredevops: marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return nil, fmt.Errorf("azuredevops: build request: %w", err)
	}
	if body != nil {
		if method == http.MethodPatch {
			req.Header.Set("Content-Type", "application/json-patch+json")
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth("", c.pat)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azuredevops: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azuredevops: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("azuredevops: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

func (c *Client) projectURL(segments ...string) string {
	u := fmt.Sprintf("%s/%s/_apis", c.baseURL, url.PathEscape(c.project))
	for _, seg := range segments {
		u += "/" + seg
	}
	return u
}

func (c *Client) GetWorkItem(ctx context.Context, id string) (*workItem, error) {
	path := fmt.Sprintf("%s/wit/workitems/%s?api-version=%s&$expand=all", c.projectURL(), id, apiVersion)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var wi workItem
	if err := json.Unmarshal(data, &wi); err != nil {
		return nil, fmt.Errorf("azuredevops: decode work item: %w", err)
	}
	return &wi, nil
}

// QueryWorkItems runs a WIQL query and then batch-fetches the matching
// items, mirroring the two-step Azure DevOps "query then hydrate" pattern.
func (c *Client) QueryWorkItems(ctx context.Context, wiql string) ([]workItem, error) {
	path := fmt.Sprintf("%s/wit/wiql?api-version=%s", c.projectURL(), apiVersion)
	data, err := c.do(ctx, http.MethodPost, path, map[string]string{"query": wiql})
	if err != nil {
		return nil, err
	}
	var result wiqlResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("azuredevops: decode wiql result: %w", err)
	}
	if len(result.WorkItems) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(result.WorkItems))
	for _, wi := range result.WorkItems {
		ids = append(ids, fmt.Sprintf("%d", wi.ID))
	}
	batchPath := fmt.Sprintf("%s/wit/workitems?ids=%s&api-version=%s&$expand=all", c.projectURL(), strings.Join(ids, ","), apiVersion)
	data, err = c.do(ctx, http.MethodGet, batchPath, nil)
	if err != nil {
		return nil, err
	}
	var list workItemList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("azuredevops: decode work item batch: %w", err)
	}
	return list.Value, nil
}

type patchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

func (c *Client) CreateWorkItem(ctx context.Context, workItemType string, fields map[string]interface{}) (*workItem, error) {
	var ops []patchOp
	for ref, val := range fields {
		ops = append(ops, patchOp{Op: "add", Path: "/fields/" + ref, Value: val})
	}
	path := fmt.Sprintf("%s/wit/workitems/$%s?api-version=%s", c.projectURL(), url.PathEscape(workItemType), apiVersion)
	data, err := c.do(ctx, http.MethodPatch, path, ops)
	if err != nil {
		return nil, err
	}
	var wi workItem
	if err := json.Unmarshal(data, &wi); err != nil {
		return nil, fmt.Errorf("azuredevops: decode created work item: %w", err)
	}
	return &wi, nil
}

func (c *Client) UpdateWorkItem(ctx context.Context, id string, fields map[string]interface{}) (*workItem, error) {
	var ops []patchOp
	for ref, val := range fields {
		ops = append(ops, patchOp{Op: "add", Path: "/fields/" + ref, Value: val})
	}
	path := fmt.Sprintf("%s/wit/workitems/%s?api-version=%s", c.projectURL(), id, apiVersion)
	data, err := c.do(ctx, http.MethodPatch, path, ops)
	if err != nil {
		return nil, err
	}
	var wi workItem
	if err := json.Unmarshal(data, &wi); err != nil {
		return nil, fmt.Errorf("azuredevops: decode updated work item: %w", err)
	}
	return &wi, nil
}

func (c *Client) DeleteWorkItem(ctx context.Context, id string) error {
	path := fmt.Sprintf("%s/wit/workitems/%s?api-version=%s", c.projectURL(), id, apiVersion)
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

type comment struct {
	ID          int    `json:"id"`
	Text        string `json:"text"`
	CreatedBy   struct{ DisplayName string `json:"displayName"` } `json:"createdBy"`
	CreatedDate string `json:"createdDate"`
}

type commentList struct {
	Comments []comment `json:"comments"`
}

func (c *Client) GetComments(ctx context.Context, workItemID string) ([]comment, error) {
	path := fmt.Sprintf("%s/wit/workitems/%s/comments?api-version=%s-preview.4", c.projectURL(), workItemID, apiVersion)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var list commentList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("azuredevops: decode comments: %w", err)
	}
	return list.Comments, nil
}

func (c *Client) AddComment(ctx context.Context, workItemID, text string) (*comment, error) {
	path := fmt.Sprintf("%s/wit/workitems/%s/comments?api-version=%s-preview.4", c.projectURL(), workItemID, apiVersion)
	data, err := c.do(ctx, http.MethodPost, path, map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	var cm comment
	if err := json.Unmarshal(data, &cm); err != nil {
		return nil, fmt.Errorf("azuredevops: decode created comment: %w", err)
	}
	return &cm, nil
}

func (c *Client) AddRelation(ctx context.Context, workItemID, linkedWorkItemID, relationKind string) error {
	op := patchOp{
		Op:   "add",
		Path: "/relations/-",
		Value: map[string]interface{}{
			"rel": relationKind,
			"url": fmt.Sprintf("%s/wit/workitems/%s", c.projectURL(), linkedWorkItemID),
		},
	}
	path := fmt.Sprintf("%s/wit/workitems/%s?api-version=%s", c.projectURL(), workItemID, apiVersion)
	_, err := c.do(ctx, http.MethodPatch, path, []patchOp{op})
	return err
}

func (c *Client) GetUpdates(ctx context.Context, workItemID string) ([]workItem, error) {
	path := fmt.Sprintf("%s/wit/workitems/%s/updates?api-version=%s", c.projectURL(), workItemID, apiVersion)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var list workItemList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("azuredevops: decode updates: %w", err)
	}
	return list.Value, nil
}

func (c *Client) GetWorkItemTypes(ctx context.Context) ([]string, error) {
	path := fmt.Sprintf("%s/wit/workitemtypes?api-version=%s", c.projectURL(), apiVersion)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Value []struct {
			Name string `json:"name"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("azuredevops: decode work item types: %w", err)
	}
	names := make([]string, 0, len(list.Value))
	for _, v := range list.Value {
		names = append(names, v.Name)
	}
	return names, nil
}

func (c *Client) GetFields(ctx context.Context, workItemType string) ([]struct {
	ReferenceName string
	Name          string
	Type          string
	Required      bool
	ReadOnly      bool
}, error) {
	path := fmt.Sprintf("%s/wit/workitemtypes/%s/fields?api-version=%s", c.projectURL(), url.PathEscape(workItemType), apiVersion)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Value []struct {
			ReferenceName string `json:"referenceName"`
			Name          string `json:"name"`
			AlwaysRequired bool  `json:"alwaysRequired"`
			ReadOnly      bool   `json:"readOnly"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("azuredevops: decode fields: %w", err)
	}
	out := make([]struct {
		ReferenceName string
		Name          string
		Type          string
		Required      bool
		ReadOnly      bool
	}, 0, len(list.Value))
	for _, f := range list.Value {
		out = append(out, struct {
			ReferenceName string
			Name          string
			Type          string
			Required      bool
			ReadOnly      bool
		}{ReferenceName: f.ReferenceName, Name: f.Name, Type: "string", Required: f.AlwaysRequired, ReadOnly: f.ReadOnly})
	}
	return out, nil
}

func (c *Client) GetStates(ctx context.Context, workItemType string) ([]string, error) {
	path := fmt.Sprintf("%s/wit/workitemtypes/%s/states?api-version=%s-preview.1", c.projectURL(), url.PathEscape(workItemType), apiVersion)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Value []struct {
			Name     string `json:"name"`
			Category string `json:"category"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("azuredevops: decode states: %w", err)
	}
	out := make([]string, 0, len(list.Value))
	for _, v := range list.Value {
		out = append(out, v.Name)
	}
	return out, nil
}
