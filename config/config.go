// Package config loads the grantd daemon configuration from TOML files, an
// optional .env file and GRANTD_ prefixed environment variables, in that
// order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-grants"
	"github.com/goliatone/go-grants/logging"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GRANTD_"

type Config struct {
	Server   ServerConfig    `toml:"server"`
	Database DatabaseConfig  `toml:"database"`
	Logging  logging.Config  `toml:"logging"`
	Grants   GrantsConfig    `toml:"grants"`
	Invoker  InvokerConfig   `toml:"invoker"`
	Clients  []ClientConfig  `toml:"clients"`
	Users    []UserConfig    `toml:"users"`
	Actions  []ActionBinding `toml:"actions"`
}

type ServerConfig struct {
	Addr          string   `toml:"addr" env:"ADDR"`
	BasePath      string   `toml:"base_path" env:"BASE_PATH"`
	LoginPage     string   `toml:"login_page" env:"LOGIN_PAGE"`
	ConsentPage   string   `toml:"consent_page" env:"CONSENT_PAGE"`
	SweepInterval Duration `toml:"sweep_interval" env:"SWEEP_INTERVAL"`
	ShutdownGrace Duration `toml:"shutdown_grace" env:"SHUTDOWN_GRACE"`
}

type DatabaseConfig struct {
	// Driver is "memory" or "sqlite"
	Driver string `toml:"driver" env:"DRIVER"`
	DSN    string `toml:"dsn" env:"DSN"`
	Debug  bool   `toml:"debug" env:"DEBUG"`
}

type GrantsConfig struct {
	Issuer          string   `toml:"issuer" env:"ISSUER"`
	SigningKey      string   `toml:"signing_key" env:"SIGNING_KEY"`
	AccessTokenTTL  Duration `toml:"access_token_ttl" env:"ACCESS_TOKEN_TTL"`
	AuthCodeTTL     Duration `toml:"auth_code_ttl" env:"AUTH_CODE_TTL"`
	SessionTTL      Duration `toml:"session_ttl" env:"SESSION_TTL"`
	DeviceCodeTTL   Duration `toml:"device_code_ttl" env:"DEVICE_CODE_TTL"`
	PollInterval    Duration `toml:"poll_interval" env:"POLL_INTERVAL"`
	SlowDownStep    Duration `toml:"slow_down_step" env:"SLOW_DOWN_STEP"`
	VerificationURI string   `toml:"verification_uri" env:"VERIFICATION_URI"`
	UserCodeLength  int      `toml:"user_code_length" env:"USER_CODE_LENGTH"`
}

// InvokerConfig tunes outbound action calls
type InvokerConfig struct {
	DefaultTimeout   Duration `toml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	RateLimit        float64  `toml:"rate_limit" env:"RATE_LIMIT"`
	Burst            int      `toml:"burst" env:"BURST"`
	MaxResponseBytes int64    `toml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
}

// ClientConfig registers an OAuth client. Secret is hashed on load, or a
// precomputed bcrypt SecretHash can be given.
type ClientConfig struct {
	ID             string   `toml:"id"`
	Name           string   `toml:"name"`
	Tenant         string   `toml:"tenant"`
	Secret         string   `toml:"secret"`
	SecretHash     string   `toml:"secret_hash"`
	Public         bool     `toml:"public"`
	RedirectURIs   []string `toml:"redirect_uris"`
	DefaultScopes  []string `toml:"default_scopes"`
	GrantTypes     []string `toml:"grant_types"`
	SkipConsent    bool     `toml:"skip_consent"`
	AccessTokenTTL Duration `toml:"access_token_ttl"`
}

// Validate will validate the client
func (c ClientConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Secret, requiredIf(!c.Public && c.SecretHash == "")),
		validation.Field(&c.RedirectURIs, validation.Each(is.URL)),
		validation.Field(&c.GrantTypes, validation.Each(validation.In(
			grants.GrantTypeAuthorizationCode,
			grants.GrantTypeDeviceCode,
		))),
		validation.Field(&c.AccessTokenTTL, validation.Min(Duration(0))),
	)
}

// UserConfig is a local identity for the reference identity provider.
type UserConfig struct {
	ID           string         `toml:"id"`
	Username     string         `toml:"username"`
	Email        string         `toml:"email"`
	Role         string         `toml:"role"`
	Password     string         `toml:"password"`
	PasswordHash string         `toml:"password_hash"`
	Claims       map[string]any `toml:"claims"`
}

// Validate will validate the user
func (u UserConfig) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.ID, validation.Required),
		validation.Field(&u.Username, validation.Required),
		validation.Field(&u.Email, is.Email),
		validation.Field(&u.Password, requiredIf(u.PasswordHash == "")),
	)
}

// ActionBinding binds a pre-issue action to a tenant and/or client.
type ActionBinding struct {
	Tenant        string            `toml:"tenant"`
	ClientID      string            `toml:"client_id"`
	ID            string            `toml:"id"`
	Name          string            `toml:"name"`
	Endpoint      string            `toml:"endpoint"`
	Auth          grants.ActionAuth `toml:"auth"`
	Timeout       Duration          `toml:"timeout"`
	MaxOperations int               `toml:"max_operations"`
}

// Validate will validate the binding
func (a ActionBinding) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.ID, validation.Required),
		validation.Field(&a.Endpoint, validation.Required, is.URL),
		validation.Field(&a.Timeout, validation.Min(Duration(0))),
		validation.Field(&a.MaxOperations, validation.Min(0)),
		validation.Field(&a.Auth, validation.By(func(value any) error {
			auth, _ := value.(grants.ActionAuth)
			return validation.ValidateStruct(&auth,
				validation.Field(&auth.Type, validation.In(
					"",
					grants.ActionAuthNone,
					grants.ActionAuthBasic,
					grants.ActionAuthBearer,
					grants.ActionAuthAPIKey,
				)),
				validation.Field(&auth.Username, requiredIf(auth.Type == grants.ActionAuthBasic)),
				validation.Field(&auth.Token, requiredIf(auth.Type == grants.ActionAuthBearer)),
				validation.Field(&auth.Key, requiredIf(auth.Type == grants.ActionAuthAPIKey)),
			)
		})),
	)
}

// Defaults returns the configuration used when no file sets a value
func Defaults() *Config {
	opts := grants.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			BasePath:      "/oauth2",
			LoginPage:     "/login",
			ConsentPage:   "/consent",
			SweepInterval: Duration(time.Minute),
			ShutdownGrace: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:grants.db?cache=shared",
		},
		Logging: logging.DefaultConfig(),
		Grants: GrantsConfig{
			Issuer:          "http://localhost:8080",
			AccessTokenTTL:  Duration(opts.AccessTokenTTL),
			AuthCodeTTL:     Duration(opts.AuthCodeTTL),
			SessionTTL:      Duration(opts.SessionTTL),
			DeviceCodeTTL:   Duration(opts.DeviceCodeTTL),
			PollInterval:    Duration(opts.PollInterval),
			SlowDownStep:    Duration(opts.SlowDownStep),
			VerificationURI: opts.VerificationURI,
			UserCodeLength:  opts.UserCodeLength,
		},
		Invoker: InvokerConfig{
			DefaultTimeout:   Duration(5 * time.Second),
			RateLimit:        50,
			Burst:            50,
			MaxResponseBytes: 1 << 20,
		},
	}
}

// Load reads the .env file (when present), merges the TOML files in order,
// applies environment overrides and validates the result. Missing files are
// skipped.
func Load(envFile string, paths ...string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
		}
	}

	cfg := Defaults()

	for _, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	targets := []struct {
		prefix string
		target any
	}{
		{"SERVER_", &cfg.Server},
		{"DATABASE_", &cfg.Database},
		{"LOG_", &cfg.Logging},
		{"", &cfg.Grants},
		{"INVOKER_", &cfg.Invoker},
	}

	for _, t := range targets {
		if err := env.ParseWithOptions(t.target, env.Options{Prefix: EnvPrefix + t.prefix}); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}
	return nil
}

// Validate will validate the configuration
func (c *Config) Validate() error {
	if err := c.GrantOptions().Validate(); err != nil {
		return fmt.Errorf("grants: %w", err)
	}

	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Server,
				validation.Field(&c.Server.Addr, validation.Required),
				validation.Field(&c.Server.SweepInterval, validation.Min(Duration(time.Second))),
			)
		})),
		validation.Field(&c.Database, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Database,
				validation.Field(&c.Database.Driver, validation.Required, validation.In("memory", "sqlite")),
				validation.Field(&c.Database.DSN, requiredIf(c.Database.Driver == "sqlite")),
			)
		})),
		validation.Field(&c.Clients),
		validation.Field(&c.Users),
		validation.Field(&c.Actions),
	)
}

// GrantOptions converts the grants section to engine options
func (c *Config) GrantOptions() grants.Options {
	g := c.Grants
	return grants.Options{
		Issuer:          g.Issuer,
		SigningKey:      g.SigningKey,
		AccessTokenTTL:  g.AccessTokenTTL.Std(),
		AuthCodeTTL:     g.AuthCodeTTL.Std(),
		SessionTTL:      g.SessionTTL.Std(),
		DeviceCodeTTL:   g.DeviceCodeTTL.Std(),
		PollInterval:    g.PollInterval.Std(),
		SlowDownStep:    g.SlowDownStep.Std(),
		VerificationURI: g.VerificationURI,
		UserCodeLength:  g.UserCodeLength,
	}
}

// ClientRegistry builds the static client registry, hashing plain secrets.
func (c *Config) ClientRegistry() (*grants.StaticClientRegistry, error) {
	registry := grants.NewStaticClientRegistry()
	for _, cc := range c.Clients {
		hash := cc.SecretHash
		if hash == "" && cc.Secret != "" {
			var err error
			if hash, err = grants.HashSecret(cc.Secret); err != nil {
				return nil, fmt.Errorf("client %s: %w", cc.ID, err)
			}
		}
		registry.Register(&grants.Client{
			ID:             cc.ID,
			Name:           cc.Name,
			Tenant:         cc.Tenant,
			SecretHash:     hash,
			Public:         cc.Public,
			RedirectURIs:   append([]string(nil), cc.RedirectURIs...),
			DefaultScopes:  append([]string(nil), cc.DefaultScopes...),
			GrantTypes:     append([]string(nil), cc.GrantTypes...),
			SkipConsent:    cc.SkipConsent,
			AccessTokenTTL: cc.AccessTokenTTL.Std(),
		})
	}
	return registry, nil
}

// IdentityProvider builds the static identity provider, hashing plain passwords.
func (c *Config) IdentityProvider() (*grants.StaticIdentityProvider, error) {
	identities := make([]grants.BasicIdentity, 0, len(c.Users))
	for _, u := range c.Users {
		hash := u.PasswordHash
		if hash == "" {
			var err error
			if hash, err = grants.HashSecret(u.Password); err != nil {
				return nil, fmt.Errorf("user %s: %w", u.ID, err)
			}
		}
		identities = append(identities, grants.BasicIdentity{
			Subject:      u.ID,
			Login:        u.Username,
			EmailAddress: u.Email,
			RoleName:     u.Role,
			PasswordHash: hash,
			Claims:       u.Claims,
		})
	}
	return grants.NewStaticIdentityProvider(identities...), nil
}

// ActionResolver builds the action resolver from the bindings
func (c *Config) ActionResolver() *grants.StaticActionResolver {
	bindings := make([]grants.ActionBinding, 0, len(c.Actions))
	for _, a := range c.Actions {
		bindings = append(bindings, grants.ActionBinding{
			Tenant:   a.Tenant,
			ClientID: a.ClientID,
			Action: grants.ActionConfig{
				ID:            a.ID,
				Name:          a.Name,
				Endpoint:      a.Endpoint,
				Auth:          a.Auth,
				Timeout:       a.Timeout.Std(),
				MaxOperations: a.MaxOperations,
			},
		})
	}
	return grants.NewStaticActionResolver(bindings...)
}

func requiredIf(cond bool) validation.Rule {
	if cond {
		return validation.Required
	}
	return validation.By(func(any) error { return nil })
}
