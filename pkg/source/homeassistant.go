package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/homeflux/homeflux/pkg/common"
	"github.com/homeflux/homeflux/pkg/log"
	"github.com/levenlabs/go-lflag"
)

// HomeAssistant reads entity states and recorder history over the host
// platform's REST API. It implements both Series and History.
type HomeAssistant struct {
	baseURL string
	token   string
	client  *http.Client
}

// New returns a client with an explicit configuration, bypassing flags.
func New(baseURL, token string) *HomeAssistant {
	return &HomeAssistant{
		baseURL: baseURL,
		token:   token,
		client:  common.HTTPClient(10 * time.Second),
	}
}

// Configured sets up the Home Assistant source via flags.
func Configured() *HomeAssistant {
	h := &HomeAssistant{
		client: common.HTTPClient(10 * time.Second),
	}
	baseURL := lflag.String("ha-url", "http://homeassistant.local:8123", "Base URL of the Home Assistant instance")
	token := lflag.String("ha-token", "", "Long-lived access token for the Home Assistant API")

	lflag.Do(func() {
		h.baseURL = *baseURL
		h.token = *token
	})

	return h
}

// Validate ensures the configuration is usable.
func (h *HomeAssistant) Validate() error {
	if h.baseURL == "" {
		return fmt.Errorf("ha-url is required")
	}
	if _, err := url.Parse(h.baseURL); err != nil {
		return fmt.Errorf("failed to parse ha url (%s): %w", h.baseURL, err)
	}
	return nil
}

func (h *HomeAssistant) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(h.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned status: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (h *HomeAssistant) get(ctx context.Context, path string, query url.Values, out any) error {
	return h.do(ctx, "GET", path, query, nil, out)
}

// CallService posts a service call, e.g. switch/turn_on with an entity_id.
func (h *HomeAssistant) CallService(ctx context.Context, domain, service string, data any) error {
	return h.do(ctx, "POST", "/api/services/"+domain+"/"+service, nil, data, nil)
}

// ReadSeries implements Series via GET /api/states/<entityID>.
func (h *HomeAssistant) ReadSeries(ctx context.Context, entityID string) (State, error) {
	var st State
	if err := h.get(ctx, "/api/states/"+entityID, nil, &st); err != nil {
		return State{}, err
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"read entity state",
		slog.String("entityID", entityID),
		slog.Time("lastUpdated", st.LastUpdated),
	)
	return st, nil
}

type historyEntry struct {
	State       string    `json:"state"`
	LastChanged time.Time `json:"last_changed"`
}

// ReadHistory implements History via GET /api/history/period. Samples whose
// state does not parse as a number (unknown, unavailable) are dropped.
func (h *HomeAssistant) ReadHistory(ctx context.Context, entityID string, start, end time.Time) ([]Sample, error) {
	q := url.Values{}
	q.Set("filter_entity_id", entityID)
	q.Set("end_time", end.UTC().Format(time.RFC3339))
	q.Set("significant_changes_only", "1")

	var batches [][]historyEntry
	path := "/api/history/period/" + start.UTC().Format(time.RFC3339)
	if err := h.get(ctx, path, q, &batches); err != nil {
		return nil, err
	}

	var samples []Sample
	var dropped int
	for _, batch := range batches {
		for _, e := range batch {
			v, err := strconv.ParseFloat(e.State, 64)
			if err != nil {
				dropped++
				continue
			}
			samples = append(samples, Sample{TS: e.LastChanged, Value: v})
		}
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"read entity history",
		slog.String("entityID", entityID),
		slog.Int("samples", len(samples)),
		slog.Int("dropped", dropped),
	)
	return samples, nil
}
