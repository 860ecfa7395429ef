package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
// Unset variables are left as-is.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate checks configuration for errors.
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	apiNames := make(map[string]bool)
	for i, api := range cfg.APIs {
		if api.Name == "" {
			return fmt.Errorf("api %d: name is required", i)
		}
		if apiNames[api.Name] {
			return fmt.Errorf("duplicate api name: %s", api.Name)
		}
		apiNames[api.Name] = true
		if api.Contract == "" {
			return fmt.Errorf("api %s: contract is required", api.Name)
		}
	}

	subKeys := make(map[string]bool)
	for i, sub := range cfg.Subscriptions {
		if sub.Key == "" {
			return fmt.Errorf("subscription %d: key is required", i)
		}
		if subKeys[sub.Key] {
			return fmt.Errorf("duplicate subscription key: %s", sub.Key)
		}
		subKeys[sub.Key] = true
	}

	// Policy declarations for an API must reference a loaded contract.
	for name, api := range cfg.Policies.APIs {
		if !apiNames[name] {
			return fmt.Errorf("policies.apis.%s: unknown api", name)
		}
		if err := l.validateStages("policies.apis."+name, &api.StagesConfig); err != nil {
			return err
		}
		for op, stages := range api.Operations {
			if err := l.validateStages(fmt.Sprintf("policies.apis.%s.operations.%s", name, op), stages); err != nil {
				return err
			}
		}
	}
	if err := l.validateStages("policies.global", &cfg.Policies.Global); err != nil {
		return err
	}

	if cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be >= 0")
	}
	if cfg.Cache.MaxTTL < 0 {
		return fmt.Errorf("cache.max_ttl must be >= 0")
	}

	return nil
}

// validateStages validates every statement list of a scope.
func (l *Loader) validateStages(where string, stages *StagesConfig) error {
	if stages == nil {
		return nil
	}
	for stage, stmts := range map[string][]StatementConfig{
		"inbound":  stages.Inbound,
		"backend":  stages.Backend,
		"outbound": stages.Outbound,
		"on_error": stages.OnError,
	} {
		if err := l.validateStatements(where+"."+stage, stmts); err != nil {
			return err
		}
	}
	return nil
}

// validateStatements checks that each statement sets exactly one policy and
// that required fields are present.
func (l *Loader) validateStatements(where string, stmts []StatementConfig) error {
	for i, st := range stmts {
		set := 0
		if st.Base {
			set++
		}
		if st.ValidateJWT != nil {
			set++
			v := st.ValidateJWT
			if v.Secret == "" && v.PublicKey == "" && v.JWKSURL == "" {
				return fmt.Errorf("%s[%d]: validate_jwt requires secret, public_key, or jwks_url", where, i)
			}
		}
		if st.RateLimit != nil {
			set++
			if st.RateLimit.Calls <= 0 {
				return fmt.Errorf("%s[%d]: rate_limit.calls must be > 0", where, i)
			}
		}
		if st.Cors != nil {
			set++
			if len(st.Cors.AllowedOrigins) == 0 {
				return fmt.Errorf("%s[%d]: cors.allowed_origins must not be empty", where, i)
			}
		}
		if st.SetHeader != nil {
			set++
			if st.SetHeader.Name == "" {
				return fmt.Errorf("%s[%d]: set_header.name is required", where, i)
			}
			switch st.SetHeader.ExistsAction {
			case "", "override", "skip", "append":
			default:
				return fmt.Errorf("%s[%d]: set_header.exists_action must be override, skip, or append", where, i)
			}
			switch st.SetHeader.Target {
			case "", "request", "response":
			default:
				return fmt.Errorf("%s[%d]: set_header.target must be request or response", where, i)
			}
		}
		if st.SetVariable != nil {
			set++
			if st.SetVariable.Name == "" {
				return fmt.Errorf("%s[%d]: set_variable.name is required", where, i)
			}
		}
		if st.CacheLookup != nil {
			set++
		}
		if st.CacheStore != nil {
			set++
		}
		if st.Mock != nil {
			set++
		}
		if st.SendBackend != nil {
			set++
			if st.SendBackend.BaseURL == "" {
				return fmt.Errorf("%s[%d]: send_backend.base_url is required", where, i)
			}
		}
		if st.Return != nil {
			set++
		}
		if st.Choose != nil {
			set++
			c := st.Choose
			if len(c.When) == 0 {
				return fmt.Errorf("%s[%d]: choose requires at least one when branch", where, i)
			}
			for j, br := range c.When {
				if br.Condition == "" {
					return fmt.Errorf("%s[%d]: choose.when[%d].condition is required", where, i, j)
				}
				if err := l.validateStatements(fmt.Sprintf("%s[%d].choose.when[%d]", where, i, j), br.Then); err != nil {
					return err
				}
			}
			if err := l.validateStatements(fmt.Sprintf("%s[%d].choose.otherwise", where, i), c.Otherwise); err != nil {
				return err
			}
		}
		if st.Trace != nil {
			set++
		}

		if set == 0 {
			return fmt.Errorf("%s[%d]: empty statement", where, i)
		}
		if set > 1 {
			return fmt.Errorf("%s[%d]: statement must declare exactly one policy", where, i)
		}
	}
	return nil
}
