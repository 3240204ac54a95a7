package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// sessionCookie must match the server's cookie name.
const sessionCookie = "admin_session"

// Client is an HTTP client for the sitepanel API.
type Client struct {
	addr    string
	session string
	http    *http.Client
}

// newClient creates a Client from the current config.
func newClient() *Client {
	c := resolved()

	tlsCfg := &tls.Config{}
	if c.TLSCACert != "" {
		if data, err := os.ReadFile(c.TLSCACert); err == nil {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(data)
			tlsCfg.RootCAs = pool
		} else {
			printError(fmt.Sprintf("reading CA cert: %v", err))
		}
	}

	return &Client{
		addr:    strings.TrimRight(c.Address, "/"),
		session: c.Session,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
	}
}

func (c *Client) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.addr+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.session})
	}
	return c.http.Do(req)
}

func (c *Client) doJSON(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}
	return c.do(method, path, bodyReader)
}

func (c *Client) get(path string) (map[string]any, error) {
	resp, err := c.do("GET", path, nil)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func (c *Client) post(path string, body any) (map[string]any, error) {
	resp, err := c.doJSON("POST", path, body)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

// patchRaw sends raw JSON as the request body.
func (c *Client) patchRaw(path string, raw []byte) (map[string]any, error) {
	resp, err := c.do("PATCH", path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

// login posts the password and returns the session token from the cookie.
func (c *Client) login(password string) (string, map[string]any, error) {
	resp, err := c.doJSON("POST", "/api/auth/login", map[string]any{"password": password})
	if err != nil {
		return "", nil, err
	}
	cookies := resp.Cookies()
	result, err := parseResponse(resp)
	if err != nil {
		return "", nil, err
	}
	for _, ck := range cookies {
		if ck.Name == sessionCookie && ck.Value != "" {
			return ck.Value, result, nil
		}
	}
	return "", nil, errors.New("server did not return a session cookie")
}

// logout ends the current session. The server answers 204 with no body.
func (c *Client) logout() error {
	resp, err := c.do("POST", "/api/auth/logout", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func parseResponse(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)
	}
	if resp.StatusCode >= 400 {
		if errs, ok := result["errors"].([]any); ok && len(errs) > 0 {
			if ms, ok := result["retry_after_ms"].(float64); ok {
				return nil, fmt.Errorf("%v (retry in %s)", errs[0], time.Duration(ms)*time.Millisecond)
			}
			return nil, fmt.Errorf("%v", errs[0])
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return result, nil
}
