package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/datasync/pkg/clients"
	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/json"
	"github.com/ajitpratap0/datasync/pkg/logger"
)

// MaxResponseBytes caps how much of a response body is read.
const MaxResponseBytes = 32 << 20

// APIExecutor pulls records from HTTP APIs.
type APIExecutor struct {
	client *clients.HTTPClient
	logger *zap.Logger

	mu     sync.Mutex
	tokens map[string]oauth2.TokenSource
}

// NewAPIExecutor creates an APIExecutor on top of client.
func NewAPIExecutor(client *clients.HTTPClient, log *zap.Logger) *APIExecutor {
	return &APIExecutor{
		client: client,
		logger: logger.OrNop(log).With(zap.String("executor", "api")),
		tokens: make(map[string]oauth2.TokenSource),
	}
}

func apiConfig(ds *datasource.DataSource) (*datasource.APIConfig, error) {
	cfg, ok := ds.Config.(*datasource.APIConfig)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "data source %s is not an api source", ds.ID)
	}
	out := *cfg
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	if out.TimeoutMs <= 0 {
		out.TimeoutMs = datasource.DefaultAPITimeoutMs
	}
	return &out, nil
}

// Test calls the endpoint and expects a non-error status.
func (e *APIExecutor) Test(ctx context.Context, ds *datasource.DataSource) error {
	cfg, err := apiConfig(ds)
	if err != nil {
		return err
	}
	_, err = e.fetch(ctx, ds.ID, cfg)
	return err
}

// Extract calls the endpoint once and emits the records found at
// recordsPath, or the whole body when no path is set. An array yields one
// record per object element; an object yields a single record.
func (e *APIExecutor) Extract(ctx context.Context, ds *datasource.DataSource, emit EmitFunc) error {
	cfg, err := apiConfig(ds)
	if err != nil {
		return err
	}
	body, err := e.fetch(ctx, ds.ID, cfg)
	if err != nil {
		return err
	}
	return emitJSON(body, cfg.RecordsPath, emit)
}

func (e *APIExecutor) fetch(ctx context.Context, id string, cfg *datasource.APIConfig) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	headers := make(map[string]string, len(cfg.Headers)+2)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "application/json"
	}

	req, err := e.client.NewRequest(ctx, strings.ToUpper(cfg.Method), cfg.BaseURL, nil, headers)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build request")
	}
	if err := e.authorize(ctx, id, cfg, req); err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.NewConnectionError(id, "request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, errors.NewConnectionError(id, "read body", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.NewConnectionError(id, "request", fmt.Errorf("%s returned %s", cfg.BaseURL, resp.Status))
	}
	return body, nil
}

func (e *APIExecutor) authorize(ctx context.Context, id string, cfg *datasource.APIConfig, req *http.Request) error {
	if cfg.Auth == nil {
		return nil
	}
	switch cfg.Auth.Type {
	case datasource.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+cfg.Auth.Token)
	case datasource.AuthOAuth2:
		token, err := e.tokenSource(ctx, cfg.Auth).Token()
		if err != nil {
			return errors.NewConnectionError(id, "oauth2 token", err)
		}
		token.SetAuthHeader(req)
	}
	return nil
}

// tokenSource returns a cached client-credentials source per client and
// token endpoint, so tokens are reused until they expire.
func (e *APIExecutor) tokenSource(ctx context.Context, auth *datasource.APIAuth) oauth2.TokenSource {
	key := auth.TokenURL + "|" + auth.ClientID + "|" + strings.Join(auth.Scopes, " ")

	e.mu.Lock()
	defer e.mu.Unlock()

	if ts, ok := e.tokens[key]; ok {
		return ts
	}
	cc := &clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.TokenURL,
		Scopes:       auth.Scopes,
	}
	// The token source outlives this request, so it gets a background
	// context carrying only the shared HTTP client.
	base := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, e.client.StandardClient())
	ts := oauth2.ReuseTokenSource(nil, cc.TokenSource(base))
	e.tokens[key] = ts
	return ts
}

// emitJSON walks the records at path inside body.
func emitJSON(body []byte, path string, emit EmitFunc) error {
	if !gjson.ValidBytes(body) {
		return errors.New(errors.ErrorTypeData, "response body is not valid JSON")
	}
	result := gjson.ParseBytes(body)
	if path != "" {
		result = result.Get(path)
		if !result.Exists() {
			return errors.Newf(errors.ErrorTypeData, "records path %q not found in response", path)
		}
	}

	switch {
	case result.IsArray():
		var emitErr error
		result.ForEach(func(_, item gjson.Result) bool {
			if !item.IsObject() {
				return true
			}
			emitErr = emitObject(item.Raw, emit)
			return emitErr == nil
		})
		return emitErr
	case result.IsObject():
		return emitObject(result.Raw, emit)
	default:
		return errors.Newf(errors.ErrorTypeData, "records path %q does not hold an object or array", path)
	}
}

func emitObject(raw string, emit EmitFunc) error {
	record := make(map[string]interface{})
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode record")
	}
	return emit(record)
}
