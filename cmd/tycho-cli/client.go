package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient posts JSON requests to the Tycho HTTP surface, mirroring the
// original TychoClient's request/start/delete methods.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *apiClient) post(path string, body interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Post(c.baseURL+"/system/"+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unexpected response (status %d): %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return result, fmt.Errorf("request failed (status %d): %v", resp.StatusCode, result["message"])
	}
	return result, nil
}

func (c *apiClient) start(req map[string]interface{}) (map[string]interface{}, error) {
	return c.post("start", req)
}

func (c *apiClient) status(name string) (map[string]interface{}, error) {
	return c.post("status", map[string]interface{}{"name": name})
}

func (c *apiClient) delete(name string) (map[string]interface{}, error) {
	return c.post("delete", map[string]interface{}{"name": name})
}

func (c *apiClient) modify(req map[string]interface{}) (map[string]interface{}, error) {
	return c.post("modify", req)
}
