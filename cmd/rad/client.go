package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultAPIUrl = "http://127.0.0.1:28080"

// APIClient talks to the admin API of a running rad.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = defaultAPIUrl
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// StatusView mirrors the admin /status payload.
type StatusView struct {
	Server        string     `json:"server"`
	State         string     `json:"state"`
	PID           int        `json:"pid"`
	Since         time.Time  `json:"since"`
	StartedAt     time.Time  `json:"started_at"`
	Cycle         uint64     `json:"cycle"`
	Restarts      uint64     `json:"restarts"`
	Held          bool       `json:"held"`
	Running       bool       `json:"running"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	LastError     string     `json:"last_error"`
	LastCheck     *checkView `json:"last_check"`
	Resources     *struct {
		CPUPercent float64 `json:"cpu_percent"`
		MemoryMB   float64 `json:"memory_mb"`
	} `json:"resources"`
}

type checkView struct {
	Healthy   bool      `json:"healthy"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checked_at"`
}

// LineView mirrors one /output entry.
type LineView struct {
	Origin     string    `json:"origin"`
	Text       string    `json:"text"`
	ObservedAt time.Time `json:"observed_at"`
}

func (c *APIClient) Status(ctx context.Context) (StatusView, error) {
	var st StatusView
	err := c.do(ctx, http.MethodGet, "/status", &st)
	return st, err
}

// Command posts one of start, stop or restart.
func (c *APIClient) Command(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/"+name, nil)
}

func (c *APIClient) Output(ctx context.Context, limit int) ([]LineView, error) {
	var lines []LineView
	err := c.do(ctx, http.MethodGet, "/output?limit="+strconv.Itoa(limit), &lines)
	return lines, err
}

func (c *APIClient) do(ctx context.Context, method, path string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("admin API unreachable at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(body, &errorResp) == nil && errorResp.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, errorResp.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printStatus(w io.Writer, st StatusView) {
	_, _ = fmt.Fprintf(w, "server:    %s\n", st.Server)
	_, _ = fmt.Fprintf(w, "state:     %s\n", st.State)
	if st.PID > 0 {
		_, _ = fmt.Fprintf(w, "pid:       %d\n", st.PID)
		_, _ = fmt.Fprintf(w, "uptime:    %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	}
	_, _ = fmt.Fprintf(w, "cycle:     %d\n", st.Cycle)
	_, _ = fmt.Fprintf(w, "restarts:  %d\n", st.Restarts)
	if st.Held {
		_, _ = fmt.Fprintln(w, "held:      yes (use 'rad start' to resume)")
	}
	if st.LastCheck != nil {
		res := "ok"
		if !st.LastCheck.Healthy {
			res = st.LastCheck.Reason
		}
		_, _ = fmt.Fprintf(w, "check:     %s\n", res)
	}
	if st.Resources != nil {
		_, _ = fmt.Fprintf(w, "cpu:       %.1f%%\n", st.Resources.CPUPercent)
		_, _ = fmt.Fprintf(w, "memory:    %.1f MB\n", st.Resources.MemoryMB)
	}
	if st.LastError != "" {
		_, _ = fmt.Fprintf(w, "error:     %s\n", st.LastError)
	}
}
