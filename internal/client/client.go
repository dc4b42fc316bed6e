// Package client talks to a running familiar server.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/lazypower/familiar/internal/engine"
	"github.com/lazypower/familiar/internal/identity"
	"github.com/lazypower/familiar/internal/memory"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 5 * time.Second
)

// Client is a thin JSON client for the familiar API.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. An empty URL falls back to
// FAMILIAR_URL, then to http://127.0.0.1:37778.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("FAMILIAR_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: serverURL,
	}
}

// Post sends a POST request with a JSON body and decodes the response into
// out, when out is non-nil.
func (c *Client) Post(path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	resp, err := c.http.Post(c.serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return decodeResponse("POST", path, resp, out)
}

// Get sends a GET request and decodes the response into out.
func (c *Client) Get(path string, out any) error {
	resp, err := c.http.Get(c.serverURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return decodeResponse("GET", path, resp, out)
}

func decodeResponse(method, path string, resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Utterance identifies the speaker of text.
func (c *Client) Utterance(text string) (identity.Match, error) {
	var m identity.Match
	err := c.Post("/api/utterances", map[string]string{"text": text}, &m)
	return m, err
}

// Command runs text as an identity command. handled is false when the
// server did not recognize a command.
func (c *Client) Command(text string) (res engine.CommandResult, handled bool, err error) {
	var out struct {
		Handled bool                 `json:"handled"`
		Result  engine.CommandResult `json:"result"`
	}
	err = c.Post("/api/commands", map[string]string{"text": text}, &out)
	return out.Result, out.Handled, err
}

// Users lists the known profiles.
func (c *Client) Users() ([]identity.Profile, error) {
	var out struct {
		Users []identity.Profile `json:"users"`
	}
	err := c.Get("/api/users", &out)
	return out.Users, err
}

// Remember stores a memory for the current user.
func (c *Client) Remember(content string, typ memory.Type, imp memory.Importance, tags []string) (memory.Entry, error) {
	req := map[string]any{
		"content": content,
		"type":    typ,
		"tags":    tags,
	}
	if imp != 0 {
		req["importance"] = imp
	}
	var m memory.Entry
	err := c.Post("/api/memories", req, &m)
	return m, err
}

// MemoryStats summarizes owner's memories, or every memory when owner is
// empty.
func (c *Client) MemoryStats(owner string) (memory.Summary, error) {
	path := "/api/memories/stats"
	if owner != "" {
		path += "?" + url.Values{"owner": {owner}}.Encode()
	}
	var sum memory.Summary
	err := c.Get(path, &sum)
	return sum, err
}

// Recall ranks the current user's memories against query. A limit of zero
// uses the server's default.
func (c *Client) Recall(query string, limit int) ([]memory.Result, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Results []memory.Result `json:"results"`
	}
	err := c.Get("/api/memories?"+q.Encode(), &out)
	return out.Results, err
}
