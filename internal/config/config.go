package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type Configuration struct {
	Server    ServerConfig  `validate:"required"`
	Logging   LoggingConfig `validate:"required"`
	Store     StoreConfig   `validate:"required"`
	Spanner   SpannerConfig
	Gateway   GatewayConfig   `validate:"required"`
	Discount  DiscountConfig  `validate:"required"`
	Locker    LockerConfig    `validate:"required"`
	Execution ExecutionConfig `validate:"required"`
	Cache     CacheConfig
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level string `validate:"required,oneof=debug info warn error"`
}

type StoreConfig struct {
	Driver string `validate:"required,oneof=spanner memory"`
}

type SpannerConfig struct {
	Project      string
	Instance     string
	Database     string
	EmulatorHost string `mapstructure:"emulator_host"`
}

// DatabasePath returns the fully qualified Spanner database name.
func (c SpannerConfig) DatabasePath() string {
	return fmt.Sprintf("projects/%s/instances/%s/databases/%s", c.Project, c.Instance, c.Database)
}

// InstancePath returns the fully qualified Spanner instance name.
func (c SpannerConfig) InstancePath() string {
	return fmt.Sprintf("projects/%s/instances/%s", c.Project, c.Instance)
}

// ClientOptions returns the options every Spanner and admin client is built
// with. An emulator host switches to a plaintext, unauthenticated endpoint.
func (c SpannerConfig) ClientOptions() []option.ClientOption {
	if c.EmulatorHost == "" {
		return nil
	}
	// gRPC endpoints take host:port without a scheme
	endpoint := strings.TrimPrefix(strings.TrimPrefix(c.EmulatorHost, "http://"), "https://")
	return []option.ClientOption{
		option.WithEndpoint(endpoint),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

// GatewayConfig is handed to the billing gateway adapter as-is.
type GatewayConfig struct {
	Provider string        `validate:"required,oneof=http stripe"`
	BaseURL  string        `mapstructure:"base_url" validate:"required_if=Provider http"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `validate:"required"`
}

type DiscountConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `validate:"required"`
	RetryMax int           `mapstructure:"retry_max" validate:"gte=0"`
}

type LockerConfig struct {
	Driver    string        `validate:"required,oneof=local redis"`
	RedisAddr string        `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	TTL       time.Duration `validate:"required"`
}

type ExecutionConfig struct {
	PreviewTimeout   time.Duration `mapstructure:"preview_timeout" validate:"required"`
	ListTimeout      time.Duration `mapstructure:"list_timeout" validate:"required"`
	ExecuteTimeout   time.Duration `mapstructure:"execute_timeout" validate:"required"`
	ChargeMaxRetries uint64        `mapstructure:"charge_max_retries"`
	ChargeBackoff    time.Duration `mapstructure:"charge_backoff" validate:"required"`
}

type CacheConfig struct {
	PlanTTL time.Duration `mapstructure:"plan_ttl"`
}

func NewConfig() (*Configuration, error) {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/planchange")

	v.SetEnvPrefix("PLANCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("spanner.project", d.Spanner.Project)
	v.SetDefault("spanner.instance", d.Spanner.Instance)
	v.SetDefault("spanner.database", d.Spanner.Database)
	v.SetDefault("spanner.emulator_host", "")
	v.SetDefault("gateway.provider", d.Gateway.Provider)
	v.SetDefault("gateway.base_url", d.Gateway.BaseURL)
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.timeout", d.Gateway.Timeout)
	v.SetDefault("discount.base_url", "")
	v.SetDefault("discount.timeout", d.Discount.Timeout)
	v.SetDefault("discount.retry_max", d.Discount.RetryMax)
	v.SetDefault("locker.driver", d.Locker.Driver)
	v.SetDefault("locker.redis_addr", "")
	v.SetDefault("locker.ttl", d.Locker.TTL)
	v.SetDefault("execution.preview_timeout", d.Execution.PreviewTimeout)
	v.SetDefault("execution.list_timeout", d.Execution.ListTimeout)
	v.SetDefault("execution.execute_timeout", d.Execution.ExecuteTimeout)
	v.SetDefault("execution.charge_max_retries", d.Execution.ChargeMaxRetries)
	v.SetDefault("execution.charge_backoff", d.Execution.ChargeBackoff)
	v.SetDefault("cache.plan_ttl", d.Cache.PlanTTL)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	// The execution lock must outlive the longest execution it guards.
	if c.Locker.TTL <= c.Execution.ExecuteTimeout {
		return ierr.NewErrorf("locker.ttl (%s) must exceed execution.execute_timeout (%s)",
			c.Locker.TTL, c.Execution.ExecuteTimeout).
			WithHint("Raise locker.ttl or lower execution.execute_timeout").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// GetDefaultConfig returns a configuration for local development backed by
// the in-memory store and a local gateway stub.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Server:  ServerConfig{Address: ":8080"},
		Logging: LoggingConfig{Level: "info"},
		Store:   StoreConfig{Driver: "memory"},
		Spanner: SpannerConfig{
			Project:  "test-project",
			Instance: "test-instance",
			Database: "planchange-db",
		},
		Gateway: GatewayConfig{
			Provider: "http",
			BaseURL:  "http://localhost:9090",
			Timeout:  10 * time.Second,
		},
		Discount: DiscountConfig{
			Timeout:  5 * time.Second,
			RetryMax: 2,
		},
		Locker: LockerConfig{
			Driver: "local",
			TTL:    2 * time.Minute,
		},
		Execution: ExecutionConfig{
			PreviewTimeout:   5 * time.Second,
			ListTimeout:      5 * time.Second,
			ExecuteTimeout:   90 * time.Second,
			ChargeMaxRetries: 2,
			ChargeBackoff:    200 * time.Millisecond,
		},
		Cache: CacheConfig{PlanTTL: 10 * time.Minute},
	}
}
