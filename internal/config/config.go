package config

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"compose-deploy/pkg/utils"
)

// AppEnvPrefix marks process variables that are copied into the remote
// .env file with the prefix removed.
const AppEnvPrefix = "APP_ENV_"

// Config is built once at startup and passed by value. Nothing in it is
// mutated after LoadConfig returns.
type Config struct {
	SSH        SSHConfig
	Remote     RemoteConfig
	Registry   RegistryConfig
	Compose    ComposeConfig
	Migrations MigrationsConfig
	App        Environment
	PublicURLs []string
	Server     ServerConfig
	History    HistoryConfig
	Logging    LoggingConfig
}

type SSHConfig struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	Password       string
	Passphrase     string
	KnownHostsPath string
	ConnectTimeout time.Duration
}

// Target returns user@host:port for log output.
func (c SSHConfig) Target() string {
	return fmt.Sprintf("%s@%s:%d", c.User, c.Host, c.Port)
}

type RemoteConfig struct {
	Dir string
}

type RegistryConfig struct {
	Host     string
	Username string
	Token    string
}

type ComposeConfig struct {
	LocalFile    string
	RemoteFile   string
	ProxyService string
}

type MigrationsConfig struct {
	Skip          bool
	LocalDir      string
	RemoteDir     string
	DBService     string
	DBUser        string
	DBName        string
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
}

type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	AllowedHosts   []string
}

type HistoryConfig struct {
	DSN string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// OverrideHosts lists the hosts an API request may target: the configured
// SSH host and SERVER_ALLOWED_HOSTS.
func (c Config) OverrideHosts() []string {
	return append([]string{c.SSH.Host}, c.Server.AllowedHosts...)
}

// RemoteMigrationsPath is the absolute remote directory the migrations
// are mirrored into.
func (c Config) RemoteMigrationsPath() string {
	if path.IsAbs(c.Migrations.RemoteDir) {
		return c.Migrations.RemoteDir
	}
	return path.Join(c.Remote.Dir, c.Migrations.RemoteDir)
}

// RemoteEnvPath is where the generated environment file lands.
func (c Config) RemoteEnvPath() string {
	return path.Join(c.Remote.Dir, ".env")
}

// RemoteComposePath is where the compose file is uploaded.
func (c Config) RemoteComposePath() string {
	return path.Join(c.Remote.Dir, c.Compose.RemoteFile)
}

func LoadConfig() Config {
	host := getEnvAsString("SSH_HOST", "127.0.0.1")

	return Config{
		SSH: SSHConfig{
			Host:           host,
			Port:           getEnvAsInt("SSH_PORT", 22),
			User:           getEnvAsString("SSH_USER", "root"),
			KeyPath:        getEnvAsString("SSH_KEY_PATH", ""),
			Password:       getEnvAsString("SSH_PASSWORD", ""),
			Passphrase:     getEnvAsString("SSH_KEY_PASSPHRASE", ""),
			KnownHostsPath: getEnvAsString("SSH_KNOWN_HOSTS", ""),
			ConnectTimeout: getEnvAsSeconds("SSH_CONNECT_TIMEOUT", 10),
		},
		Remote: RemoteConfig{
			Dir: getEnvAsString("REMOTE_DIR", "/opt/app"),
		},
		Registry: RegistryConfig{
			Host:     getEnvAsString("REGISTRY_HOST", "ghcr.io"),
			Username: getEnvAsString("GHCR_USERNAME", "deploy"),
			Token:    getEnvAsString("GHCR_TOKEN", ""),
		},
		Compose: ComposeConfig{
			LocalFile:    getEnvAsString("COMPOSE_FILE", "docker-compose.production.yml"),
			RemoteFile:   getEnvAsString("REMOTE_COMPOSE_FILE", "docker-compose.production.yml"),
			ProxyService: getEnvAsString("PROXY_SERVICE", "traefik"),
		},
		Migrations: MigrationsConfig{
			Skip:          getEnvAsBool("SKIP_MIGRATIONS", false),
			LocalDir:      getEnvAsString("MIGRATIONS_DIR", "infra/postgres/migrations"),
			RemoteDir:     getEnvAsString("REMOTE_MIGRATIONS_DIR", "db/migrations"),
			DBService:     getEnvAsString("DB_SERVICE", "postgres"),
			DBUser:        getEnvAsString("DB_USER", "app"),
			DBName:        getEnvAsString("DB_NAME", "app"),
			ReadyTimeout:  getEnvAsSeconds("DB_READY_TIMEOUT", 60),
			ReadyInterval: getEnvAsSeconds("DB_READY_INTERVAL", 2),
		},
		App:        loadAppEnvironment(host),
		PublicURLs: getEnvAsList("PUBLIC_URLS", nil),
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedHosts:   getEnvAsList("SERVER_ALLOWED_HOSTS", nil),
		},
		History: HistoryConfig{
			DSN: getEnvAsString("DEPLOY_HISTORY_DB", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvAsString("LOG_LEVEL", "info"),
			Format: getEnvAsString("LOG_FORMAT", "text"),
		},
	}
}

func loadAppEnvironment(host string) Environment {
	baseURL := fmt.Sprintf("http://%s", host)
	minioUser := getEnvAsString("MINIO_ROOT_USER", "minioadmin")
	minioPassword := getEnvAsString("MINIO_ROOT_PASSWORD", "minioadmin")

	env := Environment{
		{Key: "POSTGRES_PASSWORD", Value: getEnvAsString("POSTGRES_PASSWORD", "postgres_dev")},
		{Key: "MINIO_ROOT_USER", Value: minioUser},
		{Key: "MINIO_ROOT_PASSWORD", Value: minioPassword},
		{Key: "MINIO_ACCESS_KEY", Value: getEnvAsString("MINIO_ACCESS_KEY", minioUser)},
		{Key: "MINIO_SECRET_KEY", Value: getEnvAsString("MINIO_SECRET_KEY", minioPassword)},
		{Key: "ADMIN_API_KEY", Value: getEnvAsString("ADMIN_API_KEY", "dev-admin-key")},
		{Key: "LLM_API_KEY", Value: getEnvAsString("LLM_API_KEY", "")},
		{Key: "LLM_BASE_URL", Value: getEnvAsString("LLM_BASE_URL", "https://api.openai.com/v1")},
		{Key: "LLM_PROVIDER", Value: getEnvAsString("LLM_PROVIDER", "openai")},
		{Key: "NEXT_PUBLIC_API_BASE_URL", Value: getEnvAsString("NEXT_PUBLIC_API_BASE_URL", baseURL+":8080")},
		{Key: "NEXT_PUBLIC_REPORT_SERVICE_URL", Value: getEnvAsString("NEXT_PUBLIC_REPORT_SERVICE_URL", baseURL+":8086")},
		{Key: "NEXT_PUBLIC_ADMIN_API_BASE_URL", Value: getEnvAsString("NEXT_PUBLIC_ADMIN_API_BASE_URL", baseURL+":8081")},
		{Key: "NEXT_PUBLIC_TREATY_IMPORT_URL", Value: getEnvAsString("NEXT_PUBLIC_TREATY_IMPORT_URL", baseURL+":8087")},
		{Key: "LETSENCRYPT_EMAIL", Value: getEnvAsString("LETSENCRYPT_EMAIL", "admin@example.com")},
	}

	var extra []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(name, AppEnvPrefix) && len(name) > len(AppEnvPrefix) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		env = env.With(strings.TrimPrefix(name, AppEnvPrefix), os.Getenv(name))
	}

	return env
}

// Validate reports the first configuration value that cannot work.
func (c Config) Validate() error {
	if err := utils.ValidateHost(c.SSH.Host); err != nil {
		return fmt.Errorf("SSH_HOST: %w", err)
	}
	if err := utils.ValidatePort(c.SSH.Port); err != nil {
		return fmt.Errorf("SSH_PORT: %w", err)
	}
	if c.SSH.User == "" {
		return fmt.Errorf("SSH_USER must not be empty")
	}
	if err := utils.ValidateRemoteDir(c.Remote.Dir); err != nil {
		return fmt.Errorf("REMOTE_DIR: %w", err)
	}
	if c.Compose.RemoteFile == "" || strings.Contains(c.Compose.RemoteFile, "/") {
		return fmt.Errorf("REMOTE_COMPOSE_FILE must be a plain file name: %q", c.Compose.RemoteFile)
	}
	if err := utils.ValidateServiceName(c.Compose.ProxyService); err != nil {
		return fmt.Errorf("PROXY_SERVICE: %w", err)
	}
	if err := utils.ValidateServiceName(c.Migrations.DBService); err != nil {
		return fmt.Errorf("DB_SERVICE: %w", err)
	}
	if c.Migrations.ReadyTimeout <= 0 || c.Migrations.ReadyInterval <= 0 {
		return fmt.Errorf("DB_READY_TIMEOUT and DB_READY_INTERVAL must be positive")
	}
	return nil
}

// Overrides are per-run adjustments applied on top of a loaded Config.
type Overrides struct {
	Host           string
	ComposeFile    string
	SkipMigrations bool
}

// WithOverrides returns a copy of c with the non-zero overrides applied.
func (c Config) WithOverrides(o Overrides) Config {
	out := c
	out.App = c.App.Clone()
	out.PublicURLs = append([]string(nil), c.PublicURLs...)
	if o.Host != "" {
		out.SSH.Host = o.Host
	}
	if o.ComposeFile != "" {
		out.Compose.LocalFile = o.ComposeFile
	}
	if o.SkipMigrations {
		out.Migrations.Skip = true
	}
	return out
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
