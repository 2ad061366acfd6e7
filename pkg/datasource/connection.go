package datasource

import (
	"net/url"
	"strings"

	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/json"
)

// MaskedValue replaces secrets in configurations returned to callers.
const MaskedValue = "********"

// ConnectionConfig is the per-type connection configuration of a data
// source. The set of variants is closed: DatabaseConfig, APIConfig,
// FileConfig, WebhookConfig and InternalModuleConfig.
type ConnectionConfig interface {
	// Type is the data source type this variant belongs to.
	Type() Type
	// Mask returns a copy with secret values replaced by MaskedValue.
	Mask() ConnectionConfig

	validate(verr *errors.ValidationError)
	applyDefaults()
	restoreSecrets(prev ConnectionConfig)
	clone() ConnectionConfig
}

// Database drivers supported by the database executor.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMongoDB  = "mongodb"
)

var defaultPorts = map[string]int{
	DriverPostgres: 5432,
	DriverMySQL:    3306,
	DriverMongoDB:  27017,
}

// DefaultPort returns the well-known port of driver, or 0.
func DefaultPort(driver string) int { return defaultPorts[driver] }

// DatabaseConfig connects to a relational or document database.
type DatabaseConfig struct {
	Driver   string `json:"driver,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	// Table or Query select what a sync extracts.
	Table   string `json:"table,omitempty"`
	Query   string `json:"query,omitempty"`
	SSLMode string `json:"sslMode,omitempty"`
}

func (c *DatabaseConfig) Type() Type { return TypeDatabase }

func (c *DatabaseConfig) validate(verr *errors.ValidationError) {
	requireField(verr, "host", c.Host)
	requireField(verr, "database", c.Database)
	requireField(verr, "username", c.Username)
	if c.Driver != "" {
		if _, ok := defaultPorts[c.Driver]; !ok {
			verr.Addf("driver", "unsupported driver %q", c.Driver)
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		verr.Add("port", "must be between 0 and 65535")
	}
}

func (c *DatabaseConfig) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverPostgres
	}
	if c.Port == 0 {
		c.Port = defaultPorts[c.Driver]
	}
}

func (c *DatabaseConfig) Mask() ConnectionConfig {
	out := *c
	if out.Password != "" {
		out.Password = MaskedValue
	}
	return &out
}

func (c *DatabaseConfig) restoreSecrets(prev ConnectionConfig) {
	if p, ok := prev.(*DatabaseConfig); ok && c.Password == MaskedValue {
		c.Password = p.Password
	}
}

func (c *DatabaseConfig) clone() ConnectionConfig {
	out := *c
	return &out
}

// Auth types for API sources.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthOAuth2 = "oauth2"
)

// APIAuth configures authentication for API sources.
type APIAuth struct {
	// Type is none, bearer or oauth2
	Type         string   `json:"type"`
	Token        string   `json:"token,omitempty"`
	ClientID     string   `json:"clientId,omitempty"`
	ClientSecret string   `json:"clientSecret,omitempty"`
	TokenURL     string   `json:"tokenUrl,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// APIConfig pulls records from an HTTP API.
type APIConfig struct {
	BaseURL   string            `json:"baseUrl"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
	// RecordsPath is a gjson path to the record array in the response body.
	RecordsPath string   `json:"recordsPath,omitempty"`
	Auth        *APIAuth `json:"auth,omitempty"`
}

// DefaultAPITimeoutMs is applied when timeoutMs is unset.
const DefaultAPITimeoutMs = 5000

func (c *APIConfig) Type() Type { return TypeAPI }

func (c *APIConfig) validate(verr *errors.ValidationError) {
	if requireField(verr, "baseUrl", c.BaseURL) {
		requireHTTPURL(verr, "baseUrl", c.BaseURL)
	}
	if c.Method != "" && !oneOf(strings.ToUpper(c.Method), "GET", "POST") {
		verr.Addf("method", "unsupported method %q", c.Method)
	}
	if c.TimeoutMs < 0 {
		verr.Add("timeoutMs", "cannot be negative")
	}
	if c.Auth != nil {
		switch c.Auth.Type {
		case "", AuthNone:
		case AuthBearer:
			requireField(verr, "auth.token", c.Auth.Token)
		case AuthOAuth2:
			requireField(verr, "auth.clientId", c.Auth.ClientID)
			requireField(verr, "auth.clientSecret", c.Auth.ClientSecret)
			if requireField(verr, "auth.tokenUrl", c.Auth.TokenURL) {
				requireHTTPURL(verr, "auth.tokenUrl", c.Auth.TokenURL)
			}
		default:
			verr.Addf("auth.type", "unsupported auth type %q", c.Auth.Type)
		}
	}
}

func (c *APIConfig) applyDefaults() {
	if c.Method == "" {
		c.Method = "GET"
	}
	c.Method = strings.ToUpper(c.Method)
	if c.TimeoutMs == 0 {
		c.TimeoutMs = DefaultAPITimeoutMs
	}
}

func (c *APIConfig) Mask() ConnectionConfig {
	out := c.clone().(*APIConfig)
	out.Headers = maskHeaders(out.Headers)
	if out.Auth != nil {
		if out.Auth.Token != "" {
			out.Auth.Token = MaskedValue
		}
		if out.Auth.ClientSecret != "" {
			out.Auth.ClientSecret = MaskedValue
		}
	}
	return out
}

func (c *APIConfig) restoreSecrets(prev ConnectionConfig) {
	p, ok := prev.(*APIConfig)
	if !ok {
		return
	}
	restoreHeaders(c.Headers, p.Headers)
	if c.Auth != nil && p.Auth != nil {
		if c.Auth.Token == MaskedValue {
			c.Auth.Token = p.Auth.Token
		}
		if c.Auth.ClientSecret == MaskedValue {
			c.Auth.ClientSecret = p.Auth.ClientSecret
		}
	}
}

func (c *APIConfig) clone() ConnectionConfig {
	out := *c
	out.Headers = copyHeaders(c.Headers)
	if c.Auth != nil {
		auth := *c.Auth
		auth.Scopes = append([]string(nil), c.Auth.Scopes...)
		out.Auth = &auth
	}
	return &out
}

// File formats understood by the file executor.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// FileConfig reads records from a local file.
type FileConfig struct {
	FilePath  string `json:"filePath"`
	Format    string `json:"format,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
}

func (c *FileConfig) Type() Type { return TypeFile }

func (c *FileConfig) validate(verr *errors.ValidationError) {
	requireField(verr, "filePath", c.FilePath)
	if c.Format != "" && !oneOf(strings.ToLower(c.Format), FormatCSV, FormatJSON) {
		verr.Addf("format", "unsupported format %q", c.Format)
	}
	if len([]rune(c.Delimiter)) > 1 {
		verr.Add("delimiter", "must be a single character")
	}
}

func (c *FileConfig) applyDefaults() {
	if c.Format == "" {
		c.Format = FormatCSV
	}
	c.Format = strings.ToLower(c.Format)
}

func (c *FileConfig) Mask() ConnectionConfig { return c.clone() }

func (c *FileConfig) restoreSecrets(ConnectionConfig) {}

func (c *FileConfig) clone() ConnectionConfig {
	out := *c
	return &out
}

// WebhookConfig delivers to, or is probed at, an HTTP endpoint.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Secret  string            `json:"secret,omitempty"`
}

func (c *WebhookConfig) Type() Type { return TypeWebhook }

func (c *WebhookConfig) validate(verr *errors.ValidationError) {
	if requireField(verr, "url", c.URL) {
		requireHTTPURL(verr, "url", c.URL)
	}
	if c.Method != "" && !oneOf(strings.ToUpper(c.Method), "POST", "PUT") {
		verr.Addf("method", "unsupported method %q", c.Method)
	}
}

func (c *WebhookConfig) applyDefaults() {
	if c.Method == "" {
		c.Method = "POST"
	}
	c.Method = strings.ToUpper(c.Method)
}

func (c *WebhookConfig) Mask() ConnectionConfig {
	out := c.clone().(*WebhookConfig)
	out.Headers = maskHeaders(out.Headers)
	if out.Secret != "" {
		out.Secret = MaskedValue
	}
	return out
}

func (c *WebhookConfig) restoreSecrets(prev ConnectionConfig) {
	p, ok := prev.(*WebhookConfig)
	if !ok {
		return
	}
	restoreHeaders(c.Headers, p.Headers)
	if c.Secret == MaskedValue {
		c.Secret = p.Secret
	}
}

func (c *WebhookConfig) clone() ConnectionConfig {
	out := *c
	out.Headers = copyHeaders(c.Headers)
	return &out
}

// InternalModuleConfig reads from another module's fact or dimension table
// in the service's own database.
type InternalModuleConfig struct {
	ModuleName string `json:"moduleName"`
	FactTable  string `json:"factTable,omitempty"`
	DimTable   string `json:"dimTable,omitempty"`
	Query      string `json:"query"`
}

func (c *InternalModuleConfig) Type() Type { return TypeInternalModule }

func (c *InternalModuleConfig) validate(verr *errors.ValidationError) {
	requireField(verr, "moduleName", c.ModuleName)
	if strings.TrimSpace(c.FactTable) == "" && strings.TrimSpace(c.DimTable) == "" {
		verr.Add("factTable", "factTable or dimTable is required")
	}
	requireField(verr, "query", c.Query)
}

func (c *InternalModuleConfig) applyDefaults() {}

func (c *InternalModuleConfig) Mask() ConnectionConfig { return c.clone() }

func (c *InternalModuleConfig) restoreSecrets(ConnectionConfig) {}

func (c *InternalModuleConfig) clone() ConnectionConfig {
	out := *c
	return &out
}

// newVariant returns an empty configuration for t, or nil for unknown types.
func newVariant(t Type) ConnectionConfig {
	switch t {
	case TypeDatabase:
		return &DatabaseConfig{}
	case TypeAPI:
		return &APIConfig{}
	case TypeFile:
		return &FileConfig{}
	case TypeWebhook:
		return &WebhookConfig{}
	case TypeInternalModule:
		return &InternalModuleConfig{}
	}
	return nil
}

// DecodeConnectionConfig decodes raw JSON into the variant for t and fills
// in defaults. It does not validate required fields.
func DecodeConnectionConfig(t Type, raw []byte) (ConnectionConfig, error) {
	cfg := newVariant(t)
	if cfg == nil {
		verr := errors.NewValidationError("connection config")
		verr.Addf("type", "unknown data source type %q", t)
		return nil, verr
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		verr := errors.NewValidationError("connection config")
		verr.Addf("connectionConfig", "malformed %s configuration: %v", t, err)
		return nil, verr
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ParseConnectionConfig decodes and validates raw JSON for t.
func ParseConnectionConfig(t Type, raw []byte) (ConnectionConfig, error) {
	cfg, err := DecodeConnectionConfig(t, raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(t, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromMap converts a generic map (as read from YAML) into the variant for t.
func FromMap(t Type, m map[string]interface{}) (ConnectionConfig, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "connection config is not serializable")
	}
	return DecodeConnectionConfig(t, raw)
}

// Normalize fills in defaults on cfg in place.
func Normalize(cfg ConnectionConfig) {
	if cfg != nil {
		cfg.applyDefaults()
	}
}

// RestoreMasked copies secrets from prev into next wherever next still holds
// MaskedValue, so a client can round-trip a masked configuration.
func RestoreMasked(next, prev ConnectionConfig) {
	if next == nil || prev == nil || next.Type() != prev.Type() {
		return
	}
	next.restoreSecrets(prev)
}

func requireField(verr *errors.ValidationError, field, value string) bool {
	if strings.TrimSpace(value) == "" {
		verr.Add(field, "is required")
		return false
	}
	return true
}

func requireHTTPURL(verr *errors.ValidationError, field, raw string) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		verr.Add(field, "must be an absolute http(s) URL")
	}
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

var secretMarkers = []string{"password", "token", "secret", "api_key", "apikey", "api-key", "authorization"}

// IsSecretKey reports whether a configuration or header key looks secret.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, m := range secretMarkers {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}

func maskHeaders(h map[string]string) map[string]string {
	for k, v := range h {
		if v != "" && IsSecretKey(k) {
			h[k] = MaskedValue
		}
	}
	return h
}

func restoreHeaders(next, prev map[string]string) {
	for k, v := range next {
		if v == MaskedValue {
			if old, ok := prev[k]; ok {
				next[k] = old
			}
		}
	}
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
