package executor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/clients"
	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/json"
	"github.com/ajitpratap0/datasync/pkg/logger"
)

// SignatureHeader carries the HMAC-SHA256 of the request body when the
// webhook has a secret.
const SignatureHeader = "X-Datasync-Signature"

// Webhook events.
const (
	EventPing = "ping"
	EventSync = "sync"
)

// WebhookExecutor notifies webhook endpoints. A sync posts a sync event
// and takes the records the endpoint answers with, either a JSON array or
// an object with a "records" array; an empty answer means no records.
type WebhookExecutor struct {
	client  *clients.HTTPClient
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewWebhookExecutor creates a WebhookExecutor on top of client.
func NewWebhookExecutor(client *clients.HTTPClient, log *zap.Logger) *WebhookExecutor {
	return &WebhookExecutor{
		client:  client,
		logger:  logger.OrNop(log).With(zap.String("executor", "webhook")),
		timeout: 30 * time.Second,
		now:     time.Now,
	}
}

type webhookEvent struct {
	Event        string    `json:"event"`
	DataSourceID string    `json:"dataSourceId"`
	SentAt       time.Time `json:"sentAt"`
}

// Test sends a ping event.
func (e *WebhookExecutor) Test(ctx context.Context, ds *datasource.DataSource) error {
	_, err := e.send(ctx, ds, EventPing)
	return err
}

// Extract sends a sync event and emits the records in the response.
func (e *WebhookExecutor) Extract(ctx context.Context, ds *datasource.DataSource, emit EmitFunc) error {
	body, err := e.send(ctx, ds, EventSync)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	path := ""
	if gjson.GetBytes(body, "records").IsArray() {
		path = "records"
	}
	return emitJSON(body, path, emit)
}

func (e *WebhookExecutor) send(ctx context.Context, ds *datasource.DataSource, event string) ([]byte, error) {
	cfg, ok := ds.Config.(*datasource.WebhookConfig)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "data source %s is not a webhook source", ds.ID)
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	payload, err := json.Marshal(webhookEvent{Event: event, DataSourceID: ds.ID, SentAt: e.now().UTC()})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Secret != "" {
		headers[SignatureHeader] = Sign(cfg.Secret, payload)
	}

	req, err := e.client.NewRequest(ctx, method, cfg.URL, bytes.NewReader(payload), headers)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build request")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.NewConnectionError(ds.ID, event, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, errors.NewConnectionError(ds.ID, "read body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewConnectionError(ds.ID, event, fmt.Errorf("%s returned %s", cfg.URL, resp.Status))
	}
	return body, nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
