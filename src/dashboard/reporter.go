package dashboard

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Reporter is the single way dashboard code reports activity. Report must
// not block and must not fail the caller.
type Reporter interface {
	Report(eventType string, data map[string]any)
}

// NopReporter discards every event.
type NopReporter struct{}

func (NopReporter) Report(string, map[string]any) {}

// HTTPReporter posts events to the server's /events endpoint. Each report is
// one attempt in its own goroutine; failures go to the error log.
type HTTPReporter struct {
	endpoint string
	clientID string
	userID   string
	client   *fasthttp.Client
	timeout  time.Duration
	errorLog func(string)
	env      map[string]any
	logger   zerolog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// ReporterOption configures an HTTPReporter.
type ReporterOption func(*HTTPReporter)

// WithUserID tags every event with the logged-in user.
func WithUserID(id string) ReporterOption {
	return func(r *HTTPReporter) { r.userID = id }
}

// WithErrorLog routes delivery failures to fn, usually Effects.LogError.
func WithErrorLog(fn func(string)) ReporterOption {
	return func(r *HTTPReporter) { r.errorLog = fn }
}

// WithReportTimeout bounds each POST.
func WithReportTimeout(d time.Duration) ReporterOption {
	return func(r *HTTPReporter) { r.timeout = d }
}

// NewHTTPReporter reports to endpoint (e.g. http://host:8080/events) as clientID.
func NewHTTPReporter(endpoint, clientID string, logger zerolog.Logger, opts ...ReporterOption) *HTTPReporter {
	r := &HTTPReporter{
		endpoint: endpoint,
		clientID: clientID,
		client:   &fasthttp.Client{Name: "relay-dashboard"},
		timeout:  5 * time.Second,
		env:      environment(),
		logger:   logger.With().Str("component", "reporter").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report sends eventType with data in the background.
func (r *HTTPReporter) Report(eventType string, data map[string]any) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["environment"] = r.env

	ev := types.ActivityEvent{
		EventType: eventType,
		ClientID:  r.clientID,
		UserID:    r.userID,
		Timestamp: r.now().UTC(),
		Data:      payload,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.post(ev); err != nil {
			r.logger.Warn().Err(err).Str("event_type", eventType).Msg("report failed")
			if r.errorLog != nil {
				r.errorLog(fmt.Sprintf("Failed to report %s: %v", eventType, err))
			}
		}
	}()
}

// Wait blocks until every in-flight report has finished.
func (r *HTTPReporter) Wait() { r.wg.Wait() }

func (r *HTTPReporter) post(ev types.ActivityEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := r.client.DoTimeout(req, resp, r.timeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code >= 300 {
		return fmt.Errorf("status %d", code)
	}
	return nil
}

func environment() map[string]any {
	host, _ := os.Hostname()
	return map[string]any{
		"hostname": host,
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"agent":    "relay-dashboard",
	}
}
