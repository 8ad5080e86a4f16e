// Package loki ships audit log lines to Grafana Loki over its push API.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// labelSanitize replaces characters that are invalid in Loki label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:.]`)

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // [timestamp_ns, line] pairs
}

// eventFields is the slice of an audit event needed for labels and the
// timestamp. The full JSON line is shipped as the log body either way.
type eventFields struct {
	Guard     string `json:"guard"`
	Action    string `json:"action"`
	Source    string `json:"source"`
	CreatedAt string `json:"createdAt"`
}

// PushEventJSON pushes a raw audit event (a Kafka message value) to Loki,
// labeling the stream with guard/action/source when the JSON parses. A line
// that does not parse is still shipped, with the current time and only the
// job label, so malformed events are never dropped silently.
func PushEventJSON(ctx context.Context, baseURL string, rawJSON []byte) error {
	labels := map[string]string{}
	ts := time.Now().UTC()
	var fields eventFields
	if err := json.Unmarshal(rawJSON, &fields); err == nil {
		for k, v := range map[string]string{
			"guard":  fields.Guard,
			"action": fields.Action,
			"source": fields.Source,
		} {
			if v != "" {
				labels[k] = v
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, fields.CreatedAt); err == nil {
			ts = t
		}
	}
	return PushEvent(ctx, baseURL, ts, string(rawJSON), labels)
}

// PushEvent sends one log line to Loki at baseURL (e.g. http://localhost:3100).
// A fixed job label identifies the service; label values are sanitized.
func PushEvent(ctx context.Context, baseURL string, timestamp time.Time, line string, labels map[string]string) error {
	if baseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	streamLabels := map[string]string{"job": "medilink"}
	for k, v := range labels {
		if s := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); s != "" {
			streamLabels[k] = s
		}
	}
	payload, err := json.Marshal(pushRequest{Streams: []stream{{
		Stream: streamLabels,
		Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
	}}})
	if err != nil {
		return err
	}

	url := strings.TrimSuffix(baseURL, "/") + "/loki/api/v1/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
