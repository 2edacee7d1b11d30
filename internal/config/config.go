// Package config defines configuration parsing and helpers for the worker
// runtime.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/google/uuid"
)

// Config holds all worker runtime configuration parsed from environment
// variables, per spec §6.4.
type Config struct {
	AppEnv          string `env:"APP_ENV" envDefault:"dev"`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"mcai-worker-runtime"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	MetricsPort     int    `env:"METRICS_PORT" envDefault:"9090"`
	HTTPPort        int    `env:"HTTP_PORT" envDefault:"8080"`

	// AMQP broker connection, per spec §6.4 / §6.1.
	AMQPTLS         bool   `env:"AMQP_TLS" envDefault:"true"`
	AMQPHostname    string `env:"AMQP_HOSTNAME" envDefault:"127.0.0.1"`
	AMQPPort        int    `env:"AMQP_PORT" envDefault:"5672"`
	AMQPUsername    string `env:"AMQP_USERNAME" envDefault:"guest"`
	AMQPPassword    string `env:"AMQP_PASSWORD" envDefault:"guest"`
	AMQPVhost       string `env:"AMQP_VHOST" envDefault:"/"`
	AMQPVirtualHost string `env:"AMQP_VIRTUAL_HOST" envDefault:""`
	AMQPQueue       string `env:"AMQP_QUEUE" envDefault:"job_undefined"`

	// SourceOrders, when non-empty, switches the worker to offline replay
	// mode: a colon-separated list of JSON order files fed through the same
	// channel the broker would use (spec §6.4).
	SourceOrders string `env:"SOURCE_ORDERS" envDefault:""`

	// Describe, when true, prints the worker configuration (JSON or YAML,
	// per DescribeFormat) and exits instead of connecting to a broker.
	Describe bool `env:"DESCRIBE" envDefault:"false"`

	// DescribeFormat selects "json" (default) or "yaml" for both the
	// DESCRIBE CLI flag and the /describe?format= query parameter.
	DescribeFormat string `env:"DESCRIBE_FORMAT" envDefault:"json"`

	// DirectMessagingIdentifier overrides the discovered instance ID.
	DirectMessagingIdentifier string `env:"DIRECT_MESSAGING_IDENTIFIER" envDefault:""`

	// Broker reconnection backoff (spec §5, §7: Amqp errors bubble to the
	// reconnection loop).
	ReconnectInitialInterval time.Duration `env:"RECONNECT_INITIAL_INTERVAL" envDefault:"1s"`
	ReconnectMaxInterval     time.Duration `env:"RECONNECT_MAX_INTERVAL" envDefault:"30s"`
	ReconnectMaxElapsedTime  time.Duration `env:"RECONNECT_MAX_ELAPSED_TIME" envDefault:"0s"`

	// WorkerKind selects which bundled example MessageEvent implementation
	// cmd/worker wires in: "simple" or "media".
	WorkerKind string `env:"WORKER_KIND" envDefault:"simple"`

	// Credential cache (spec §6.5): optional Redis-backed cache in front of
	// the HTTP credential store path. Caching is disabled when the address
	// is empty.
	CredentialCacheRedisAddr string        `env:"CREDENTIAL_CACHE_REDIS_ADDR" envDefault:""`
	CredentialCacheTTL       time.Duration `env:"CREDENTIAL_CACHE_TTL" envDefault:"5m"`
}

// VirtualHost returns the effective AMQP vhost, preferring the legacy
// AMQP_VIRTUAL_HOST spelling when set (spec §6.4 names both).
func (c Config) VirtualHost() string {
	if c.AMQPVirtualHost != "" {
		return c.AMQPVirtualHost
	}
	return c.AMQPVhost
}

// SourceOrderFiles splits SourceOrders on ':' into individual file paths.
func (c Config) SourceOrderFiles() []string {
	if c.SourceOrders == "" {
		return nil
	}
	return strings.Split(c.SourceOrders, ":")
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// InstanceID resolves the worker's identity, per spec §6.4: an explicit
// DIRECT_MESSAGING_IDENTIFIER override, else the host container's cgroup
// id, else a generated UUID.
func (c Config) InstanceID() string {
	if c.DirectMessagingIdentifier != "" {
		return c.DirectMessagingIdentifier
	}
	if id, ok := cgroupContainerID("/proc/self/cgroup"); ok {
		return id
	}
	return uuid.NewString()
}

// cgroupContainerID extracts a container id from a cgroup file, matching
// the long hex id docker/containerd append to cgroup paths.
func cgroupContainerID(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.LastIndex(line, "/")
		if idx < 0 {
			continue
		}
		candidate := line[idx+1:]
		candidate = strings.TrimSuffix(candidate, ".scope")
		if isHex64(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// CredentialStoreConfig holds the HTTP-backed credential store settings
// for one named store, discovered from `<STORE>_HOSTNAME` /
// `<STORE>_USERNAME` / `<STORE>_PASSWORD` (spec §6.4/§6.5). Stores are
// looked up by name rather than declared statically since a worker may
// reference an arbitrary number of them.
type CredentialStoreConfig struct {
	Hostname string
	Username string
	Password string
}

// LookupCredentialStore reads `<STORE>_HOSTNAME`/`_USERNAME`/`_PASSWORD`
// for the named store from the environment.
func LookupCredentialStore(store string) (CredentialStoreConfig, bool) {
	upper := strings.ToUpper(store)
	host, ok := os.LookupEnv(upper + "_HOSTNAME")
	if !ok || host == "" {
		return CredentialStoreConfig{}, false
	}
	return CredentialStoreConfig{
		Hostname: host,
		Username: os.Getenv(upper + "_USERNAME"),
		Password: os.Getenv(upper + "_PASSWORD"),
	}, true
}

// portString formats a port for dial strings, tolerating zero.
func portString(port int) string {
	if port == 0 {
		return "5672"
	}
	return strconv.Itoa(port)
}

// AMQPAddress formats the dial address for the broker connection.
func (c Config) AMQPAddress() string {
	scheme := "amqp"
	if c.AMQPTLS {
		scheme = "amqps"
	}
	return fmt.Sprintf("%s://%s:%s@%s:%s/%s", scheme, c.AMQPUsername, c.AMQPPassword, c.AMQPHostname, portString(c.AMQPPort), strings.TrimPrefix(c.VirtualHost(), "/"))
}
