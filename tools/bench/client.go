package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient drives the coordinator's HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type recordPayload struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

type writeResponse struct {
	State              string `json:"state"`
	QueuedForPartition *int   `json:"queuedForPartition"`
	User               struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

// Degraded reports whether the write committed on master only.
func (r *writeResponse) Degraded() bool {
	return r.QueuedForPartition != nil
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Create inserts a record and returns the assigned id plus degraded flag.
func (c *apiClient) Create(payload recordPayload) (*writeResponse, error) {
	var result writeResponse
	if err := c.do(http.MethodPost, "/records", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Get reads one record by id.
func (c *apiClient) Get(id int64) error {
	return c.do(http.MethodGet, fmt.Sprintf("/records/%d", id), nil, nil)
}

// Update patches the city of one record.
func (c *apiClient) Update(id int64, city string) (*writeResponse, error) {
	var result writeResponse
	patch := map[string]string{"city": city}
	if err := c.do(http.MethodPut, fmt.Sprintf("/records/%d", id), patch, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search scans records by country.
func (c *apiClient) Search(country string, limit int) error {
	return c.do(http.MethodGet, fmt.Sprintf("/records/search?country=%s&limit=%d", country, limit), nil, nil)
}
