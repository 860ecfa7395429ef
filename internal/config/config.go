// Package config loads the gateway configuration: server settings, API
// contracts, subscriptions, and the per-scope policy declarations.
package config

import "time"

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Logging       LoggingConfig        `yaml:"logging"`
	Tracing       TracingConfig        `yaml:"tracing"`
	Redis         RedisConfig          `yaml:"redis"`
	Cache         CacheConfig          `yaml:"cache"`
	APIs          []APIConfig          `yaml:"apis"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Policies      PoliciesConfig       `yaml:"policies"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Metrics         bool          `yaml:"metrics"`
	ProblemBaseURL  string        `yaml:"problem_base_url"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig enables OTLP span export for exchanges.
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	ServiceName string            `yaml:"service_name"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	SampleRate  float64           `yaml:"sample_rate"`
	Headers     map[string]string `yaml:"headers"`
}

// RedisConfig enables the distributed rate-limit counter store when an
// address is set.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// CacheConfig bounds the shared response cache.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	MaxTTL     time.Duration `yaml:"max_ttl"`
}

// APIConfig binds an API name to its OpenAPI contract.
type APIConfig struct {
	Name     string `yaml:"name"`
	Contract string `yaml:"contract"`
}

// SubscriptionConfig declares one consumer of the gateway.
type SubscriptionConfig struct {
	Name       string `yaml:"name"`
	Key        string `yaml:"key"`
	CounterKey string `yaml:"counter_key"`
	Active     *bool  `yaml:"active"` // nil means active
}

// PoliciesConfig declares policy statements at the three scopes.
type PoliciesConfig struct {
	Global StagesConfig          `yaml:"global"`
	APIs   map[string]*APIScopes `yaml:"apis"`
}

// APIScopes holds an API scope and its per-operation scopes.
type APIScopes struct {
	StagesConfig `yaml:",inline"`
	Operations   map[string]*StagesConfig `yaml:"operations"`
}

// StagesConfig declares statements per pipeline stage.
type StagesConfig struct {
	Inbound  []StatementConfig `yaml:"inbound"`
	Backend  []StatementConfig `yaml:"backend"`
	Outbound []StatementConfig `yaml:"outbound"`
	OnError  []StatementConfig `yaml:"on_error"`
}

// StatementConfig is one policy statement. Exactly one field must be set;
// `base: true` splices the parent scope's statements at this position.
type StatementConfig struct {
	Base        bool                  `yaml:"base"`
	ValidateJWT *ValidateJWTStatement `yaml:"validate_jwt"`
	RateLimit   *RateLimitStatement   `yaml:"rate_limit"`
	Cors        *CorsStatement        `yaml:"cors"`
	SetHeader   *SetHeaderStatement   `yaml:"set_header"`
	SetVariable *SetVariableStatement `yaml:"set_variable"`
	CacheLookup *CacheStatement       `yaml:"cache_lookup"`
	CacheStore  *CacheStatement       `yaml:"cache_store"`
	Mock        *MockStatement        `yaml:"mock_response"`
	SendBackend *SendStatement        `yaml:"send_backend"`
	Return      *ReturnStatement      `yaml:"return_response"`
	Choose      *ChooseStatement      `yaml:"choose"`
	Trace       *TraceStatement       `yaml:"trace"`
}

// ValidateJWTStatement configures JWT validation.
type ValidateJWTStatement struct {
	HeaderName      string                   `yaml:"header_name"`
	Scheme          string                   `yaml:"scheme"`
	Issuer          string                   `yaml:"issuer"`
	Audiences       []string                 `yaml:"audiences"`
	RequiredClaims  []RequiredClaimStatement `yaml:"required_claims"`
	Secret          string                   `yaml:"secret"`      // HMAC shared secret
	PublicKey       string                   `yaml:"public_key"`  // PEM-encoded RSA key
	JWKSURL         string                   `yaml:"jwks_url"`    // remote key set
	RefreshInterval time.Duration            `yaml:"refresh_interval"`
}

// RequiredClaimStatement requires a claim to hold one of the listed values.
type RequiredClaimStatement struct {
	Name   string   `yaml:"name"`
	Values []string `yaml:"values"`
}

// RateLimitStatement configures fixed-window quota enforcement.
type RateLimitStatement struct {
	Calls             int           `yaml:"calls"`
	RenewalPeriod     time.Duration `yaml:"renewal_period"`
	CounterExpression string        `yaml:"counter_expression"`
}

// CorsStatement configures cross-origin handling.
type CorsStatement struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposeHeaders    []string `yaml:"expose_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// SetHeaderStatement sets or appends a header on the request or response.
type SetHeaderStatement struct {
	Name            string `yaml:"name"`
	Value           string `yaml:"value"`
	ValueExpression string `yaml:"value_expression"`
	ExistsAction    string `yaml:"exists_action"` // override, skip, append
	Target          string `yaml:"target"`        // request, response
}

// SetVariableStatement writes a value into the exchange scratch space.
type SetVariableStatement struct {
	Name            string `yaml:"name"`
	Value           any    `yaml:"value"`
	ValueExpression string `yaml:"value_expression"`
}

// CacheStatement configures cache lookup/store. Lookup and store statements
// for the same route must declare the same vary settings.
type CacheStatement struct {
	TTL         time.Duration `yaml:"ttl"`
	VaryHeaders []string      `yaml:"vary_headers"`
	VaryQuery   []string      `yaml:"vary_query"`
}

// MockStatement short-circuits the backend stage with a canned response.
type MockStatement struct {
	StatusCode  int               `yaml:"status_code"`
	ContentType string            `yaml:"content_type"`
	Body        string            `yaml:"body"`
	Headers     map[string]string `yaml:"headers"`
}

// SendStatement forwards the request to a backend service.
type SendStatement struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ReturnStatement short-circuits with an explicit response.
type ReturnStatement struct {
	StatusCode int               `yaml:"status_code"`
	Reason     string            `yaml:"reason"`
	Headers    map[string]string `yaml:"headers"`
	Body       string            `yaml:"body"`
}

// ChooseStatement runs the first branch whose condition holds.
type ChooseStatement struct {
	When      []ChooseBranch    `yaml:"when"`
	Otherwise []StatementConfig `yaml:"otherwise"`
}

// ChooseBranch is one conditional branch.
type ChooseBranch struct {
	Condition string            `yaml:"condition"`
	Then      []StatementConfig `yaml:"then"`
}

// TraceStatement emits a structured log line.
type TraceStatement struct {
	Message string `yaml:"message"`
}

// DefaultConfig returns a configuration with sane defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Metrics:         true,
		},
		Logging: LoggingConfig{Level: "info"},
		Cache: CacheConfig{
			MaxEntries: 1000,
			MaxTTL:     time.Hour,
		},
	}
}
