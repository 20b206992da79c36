package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient is a thin wrapper over keepkeyd's HTTP command surface, the
// companion console's equivalent of the teacher's client.APIClient in
// internal/client talking to hasher-host.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}
}

// deviceSummary mirrors internal/enumerator.Descriptor's JSON shape, which
// carries no struct tags and so serializes under its exported field names.
type deviceSummary struct {
	DeviceID      string
	VendorID      uint16
	ProductID     uint16
	Manufacturer  string
	Product       string
	Serial        string
	Path          string
	TransportKind int
}

func (c *apiClient) listDevices() ([]deviceSummary, error) {
	resp, err := c.http.Get(c.baseURL + "/api/v1/devices")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Devices []deviceSummary `json:"devices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Devices, nil
}

// runOp POSTs body (may be nil) to deviceID's op endpoint and returns the
// raw JSON response for the model to render.
func (c *apiClient) runOp(deviceID, op string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	url := fmt.Sprintf("%s/api/v1/devices/%s/%s", c.baseURL, deviceID, op)
	resp, err := c.http.Post(url, "application/json", reader)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// sseFrame mirrors internal/httpapi/sse.go's wire shape.
type sseFrame struct {
	Kind     string          `json:"kind"`
	DeviceID string          `json:"device_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Lagged   bool            `json:"lagged,omitempty"`
}

// streamEvents connects to /api/v1/events and pushes one sseFrame per line
// onto out until the response body ends or a read fails, which includes
// the http.Client's own Timeout expiring.
func (c *apiClient) streamEvents(out chan<- sseFrame, errs chan<- error) {
	resp, err := c.http.Get(c.baseURL + "/api/v1/events")
	if err != nil {
		errs <- err
		return
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame sseFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			continue
		}
		out <- frame
	}
	if err := scanner.Err(); err != nil {
		errs <- err
	}
}
