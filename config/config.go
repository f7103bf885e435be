package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	defaultListenAddr      = "0.0.0.0:7171"
	defaultSrvWriteTimeout = 15 * time.Second
	defaultSrvReadTimeout  = 15 * time.Second

	defaultMaxBatchSize  = 1000
	defaultMaxBatchAge   = 5 * time.Minute
	defaultSweepInterval = 1 * time.Minute

	defaultChunkHours   = 24
	defaultPacingDelay  = 10 * time.Second
	defaultProviderMax  = 3
	defaultStoreTimeout = 30 * time.Second

	SampleConfigPath = "tickpipe.example.toml"
)

// Venue kinds understood by the broker layer.
const (
	VenueKindWebsocket = "websocket"
	VenueKindStream    = "stream"
	VenueKindMock      = "mock"
)

var (
	validate = validator.New()

	// ErrEmptyConfigPath defines a sentinel error for an empty config path.
	ErrEmptyConfigPath = errors.New("empty configuration file path")

	supportedVenueKinds = map[string]struct{}{
		VenueKindWebsocket: {},
		VenueKindStream:    {},
		VenueKindMock:      {},
	}
)

type (
	// Config defines all necessary tickpipe configuration parameters.
	Config struct {
		Server      Server      `mapstructure:"server"`
		ObjectStore ObjectStore `mapstructure:"object_store" validate:"required"`
		Database    Database    `mapstructure:"database"`
		Venues      []Venue     `mapstructure:"venues" validate:"dive"`
		Symbols     []string    `mapstructure:"symbols"`
		Batcher     Batcher     `mapstructure:"batcher"`
		History     History     `mapstructure:"history"`
	}

	// Server defines the ops HTTP listener configuration.
	Server struct {
		ListenAddr     string   `mapstructure:"listen_addr"`
		WriteTimeout   string   `mapstructure:"write_timeout"`
		ReadTimeout    string   `mapstructure:"read_timeout"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		EnableMetrics  bool     `mapstructure:"enable_metrics"`
	}

	// ObjectStore defines the S3-compatible data lake connection.
	ObjectStore struct {
		Endpoint        string `mapstructure:"endpoint" validate:"required"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		Bucket          string `mapstructure:"bucket" validate:"required"`
		UseSSL          bool   `mapstructure:"use_ssl"`
		RequestTimeout  string `mapstructure:"request_timeout"`
	}

	// Database defines the Timescale connection.
	Database struct {
		URL      string `mapstructure:"url"`
		MinConns int    `mapstructure:"min_conns"`
		MaxConns int    `mapstructure:"max_conns"`
	}

	// Venue defines one upstream broker connection.
	Venue struct {
		Name      string `mapstructure:"name" validate:"required"`
		Kind      string `mapstructure:"kind" validate:"required"`
		Websocket string `mapstructure:"websocket"`
		Rest      string `mapstructure:"rest"`
		APIKey    string `mapstructure:"apikey"`
		AccountID string `mapstructure:"account_id"`
	}

	// Batcher defines the live tick batching thresholds.
	Batcher struct {
		MaxBatchSize  int    `mapstructure:"max_batch_size"`
		MaxBatchAge   string `mapstructure:"max_batch_age"`
		SweepInterval string `mapstructure:"sweep_interval"`
	}

	// History defines the historical tick provider connection and the
	// import pacing parameters.
	History struct {
		Endpoint    string   `mapstructure:"endpoint"`
		APIKey      string   `mapstructure:"apikey"`
		Instruments []string `mapstructure:"instruments"`
		ChunkHours  int      `mapstructure:"chunk_hours"`
		PacingDelay string   `mapstructure:"pacing_delay"`
		MaxRetries  int      `mapstructure:"max_retries"`
	}
)

// venueValidation is custom validation for the Venue struct.
func venueValidation(sl validator.StructLevel) {
	venue := sl.Current().Interface().(Venue)

	if _, ok := supportedVenueKinds[venue.Kind]; !ok {
		sl.ReportError(venue.Kind, "kind", "Kind", "unsupportedVenueKind", "")
		return
	}
	if venue.Kind == VenueKindWebsocket && venue.Websocket == "" {
		sl.ReportError(venue.Websocket, "websocket", "Websocket", "missingWebsocketEndpoint", "")
	}
	if venue.Kind == VenueKindStream && venue.Rest == "" {
		sl.ReportError(venue.Rest, "rest", "Rest", "missingStreamEndpoint", "")
	}
}

// Validate returns an error if the Config object is invalid.
func (c Config) Validate() error {
	if err := c.validateBatcher(); err != nil {
		return err
	}

	validate.RegisterStructValidation(venueValidation, Venue{})
	return validate.Struct(c)
}

func (c Config) validateBatcher() error {
	if c.Batcher.MaxBatchSize < 1 {
		return fmt.Errorf("batcher max_batch_size must be positive")
	}
	if _, err := time.ParseDuration(c.Batcher.MaxBatchAge); err != nil {
		return fmt.Errorf("batcher max_batch_age: %w", err)
	}
	if _, err := time.ParseDuration(c.Batcher.SweepInterval); err != nil {
		return fmt.Errorf("batcher sweep_interval: %w", err)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = defaultSrvWriteTimeout.String()
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = defaultSrvReadTimeout.String()
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.ObjectStore.RequestTimeout == "" {
		c.ObjectStore.RequestTimeout = defaultStoreTimeout.String()
	}
	if c.Batcher.MaxBatchSize == 0 {
		c.Batcher.MaxBatchSize = defaultMaxBatchSize
	}
	if c.Batcher.MaxBatchAge == "" {
		c.Batcher.MaxBatchAge = defaultMaxBatchAge.String()
	}
	if c.Batcher.SweepInterval == "" {
		c.Batcher.SweepInterval = defaultSweepInterval.String()
	}
	if c.History.ChunkHours == 0 {
		c.History.ChunkHours = defaultChunkHours
	}
	if c.History.PacingDelay == "" {
		c.History.PacingDelay = defaultPacingDelay.String()
	}
	if c.History.MaxRetries == 0 {
		c.History.MaxRetries = defaultProviderMax
	}
}

// VenueMap returns the configured venues keyed by name.
func (c Config) VenueMap() map[string]Venue {
	venues := make(map[string]Venue, len(c.Venues))
	for _, v := range c.Venues {
		venues[v.Name] = v
	}
	return venues
}
