package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"callsync/internal/calls"
)

const (
	EventConnected = "connected"
	EventChange    = "change"
)

// StreamEvent is one frame of the change stream. Change is set for EventChange.
type StreamEvent struct {
	Name   string
	Change calls.Change
}

// Changes opens the change stream and calls fn per event. It returns when ctx ends, when fn
// fails, or with ErrStreamClosed when the server ends the stream.
func (c *Client) Changes(ctx context.Context, table string, fn func(StreamEvent) error) error {
	path := "/api/changes"
	if table != "" {
		path += "?table=" + url.QueryEscape(table)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var name string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if name == "" && data.Len() == 0 {
				continue
			}
			ev, err := parseFrame(name, data.String())
			name = ""
			data.Reset()
			if err != nil {
				return err
			}
			if err := fn(ev); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read change stream: %w", err)
	}
	return ErrStreamClosed
}

func parseFrame(name, data string) (StreamEvent, error) {
	ev := StreamEvent{Name: name}
	if name != EventChange {
		return ev, nil
	}
	if err := json.Unmarshal([]byte(data), &ev.Change); err != nil {
		return StreamEvent{}, fmt.Errorf("decode change: %w", err)
	}
	return ev, nil
}
