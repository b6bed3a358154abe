package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/kacperjurak/goimpfit/pkg/models"
)

// Client handles webhook HTTP requests with connection pooling
type Client struct {
	url        string
	httpClient *http.Client
	gzip       bool
	logger     *slog.Logger
	bufferPool sync.Pool
	now        func() time.Time
}

// Options configures a Client.
type Options struct {
	URL    string
	Gzip   bool
	Logger *slog.Logger
}

// NewClient creates a new webhook client with connection pooling
func NewClient(opts Options) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,

		// bodies are compressed explicitly when enabled
		DisableCompression: true,
		ForceAttemptHTTP2:  false,
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		url:    opts.URL,
		gzip:   opts.Gzip,
		logger: logger,
		httpClient: &http.Client{
			Timeout:   45 * time.Second,
			Transport: transport,
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 1024))
			},
		},
		now: time.Now,
	}
}

// Payload builds the JSON body for an item.
func (c *Client) Payload(item models.WebhookItem) models.WebhookResponse {
	payload := models.WebhookResponse{
		ID:                 item.RequestID,
		Time:               c.now().Format(time.RFC3339Nano),
		ChiSquare:          sanitizeFloat(item.ChiSquare),
		RealImpedance:      item.RealImp,
		ImaginaryImpedance: item.ImagImp,
		Frequencies:        item.Freqs,
		Parameters:         item.Params,
		ElementNames:       item.Elements,
		ElementImpedances:  item.ElementImpedances,
		CircuitType:        item.CircuitCode,
	}
	if item.KK != nil {
		payload.KK = &models.KKSummaryJSON{
			M:          item.KK.M,
			Mu:         sanitizeFloat(item.KK.Mu),
			ChiSquared: sanitizeFloat(item.KK.ChiSquared),
			Validated:  item.KK.Validated,
		}
	}
	return payload
}

// Send posts one item to the webhook URL.
func (c *Client) Send(ctx context.Context, item models.WebhookItem) error {
	payload := c.Payload(item)

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	if err := c.encode(buf, payload); err != nil {
		return fmt.Errorf("failed to marshal webhook data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("webhook sent",
		"request_id", item.RequestID,
		"circuit", item.CircuitCode,
		"status", resp.StatusCode,
		"bytes", buf.Len())

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) encode(buf *bytes.Buffer, payload models.WebhookResponse) error {
	if !c.gzip {
		return json.NewEncoder(buf).Encode(payload)
	}
	zw := gzip.NewWriter(buf)
	if err := json.NewEncoder(zw).Encode(payload); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// sanitizeFloat maps NaN and Inf to 0 for JSON
func sanitizeFloat(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0.0
	}
	return value
}
