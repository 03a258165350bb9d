package grants

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Config holds the grant engine options
type Config interface {
	GetIssuer() string
	GetSigningKey() string
	GetAccessTokenTTL() time.Duration
	GetAuthCodeTTL() time.Duration
	GetSessionTTL() time.Duration
	GetDeviceCodeTTL() time.Duration
	GetPollInterval() time.Duration
	GetSlowDownStep() time.Duration
	GetVerificationURI() string
	GetUserCodeLength() int
}

// Options is the default Config implementation.
type Options struct {
	Issuer          string        `json:"issuer" toml:"issuer" env:"ISSUER"`
	SigningKey      string        `json:"-" toml:"signing_key" env:"SIGNING_KEY"`
	AccessTokenTTL  time.Duration `json:"access_token_ttl" toml:"access_token_ttl" env:"ACCESS_TOKEN_TTL"`
	AuthCodeTTL     time.Duration `json:"auth_code_ttl" toml:"auth_code_ttl" env:"AUTH_CODE_TTL"`
	SessionTTL      time.Duration `json:"session_ttl" toml:"session_ttl" env:"SESSION_TTL"`
	DeviceCodeTTL   time.Duration `json:"device_code_ttl" toml:"device_code_ttl" env:"DEVICE_CODE_TTL"`
	PollInterval    time.Duration `json:"poll_interval" toml:"poll_interval" env:"POLL_INTERVAL"`
	SlowDownStep    time.Duration `json:"slow_down_step" toml:"slow_down_step" env:"SLOW_DOWN_STEP"`
	VerificationURI string        `json:"verification_uri" toml:"verification_uri" env:"VERIFICATION_URI"`
	UserCodeLength  int           `json:"user_code_length" toml:"user_code_length" env:"USER_CODE_LENGTH"`
}

// DefaultOptions returns options with the engine defaults. Issuer and
// SigningKey still need to be provided.
func DefaultOptions() Options {
	return Options{
		AccessTokenTTL:  time.Hour,
		AuthCodeTTL:     5 * time.Minute,
		SessionTTL:      10 * time.Minute,
		DeviceCodeTTL:   600 * time.Second,
		PollInterval:    5 * time.Second,
		SlowDownStep:    5 * time.Second,
		VerificationURI: "http://localhost:8080/oauth2/device",
		UserCodeLength:  8,
	}
}

// Validate will validate the options
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Issuer, validation.Required),
		validation.Field(&o.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&o.AccessTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.AuthCodeTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.SessionTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.DeviceCodeTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.PollInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.SlowDownStep, validation.Min(time.Duration(0))),
		validation.Field(&o.VerificationURI, validation.Required, is.URL),
		validation.Field(&o.UserCodeLength, validation.Required, validation.Min(6), validation.Max(16)),
	)
}

func (o Options) GetIssuer() string                { return o.Issuer }
func (o Options) GetSigningKey() string            { return o.SigningKey }
func (o Options) GetAccessTokenTTL() time.Duration { return o.AccessTokenTTL }
func (o Options) GetAuthCodeTTL() time.Duration    { return o.AuthCodeTTL }
func (o Options) GetSessionTTL() time.Duration     { return o.SessionTTL }
func (o Options) GetDeviceCodeTTL() time.Duration  { return o.DeviceCodeTTL }
func (o Options) GetPollInterval() time.Duration   { return o.PollInterval }
func (o Options) GetSlowDownStep() time.Duration   { return o.SlowDownStep }
func (o Options) GetVerificationURI() string       { return o.VerificationURI }
func (o Options) GetUserCodeLength() int           { return o.UserCodeLength }

var _ Config = Options{}
