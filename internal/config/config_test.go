package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"SSH_HOST", "SSH_PORT", "SSH_USER", "REMOTE_DIR", "GHCR_TOKEN", "COMPOSE_FILE", "MINIO_ROOT_USER", "MINIO_ACCESS_KEY", "DB_READY_TIMEOUT", "SERVER_ALLOWED_HOSTS"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	assert.Equal(t, "127.0.0.1", cfg.SSH.Host)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, "root", cfg.SSH.User)
	assert.Equal(t, 10*time.Second, cfg.SSH.ConnectTimeout)
	assert.Equal(t, "/opt/app", cfg.Remote.Dir)
	assert.Equal(t, "ghcr.io", cfg.Registry.Host)
	assert.Empty(t, cfg.Registry.Token)
	assert.Equal(t, "docker-compose.production.yml", cfg.Compose.LocalFile)
	assert.Equal(t, "traefik", cfg.Compose.ProxyService)
	assert.Equal(t, "infra/postgres/migrations", cfg.Migrations.LocalDir)
	assert.Equal(t, 60*time.Second, cfg.Migrations.ReadyTimeout)
	assert.Equal(t, 2*time.Second, cfg.Migrations.ReadyInterval)
	assert.Equal(t, "/opt/app/db/migrations", cfg.RemoteMigrationsPath())
	assert.Equal(t, "/opt/app/.env", cfg.RemoteEnvPath())
	assert.Equal(t, "/opt/app/docker-compose.production.yml", cfg.RemoteComposePath())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Empty(t, cfg.Server.AllowedHosts)
	assert.Equal(t, []string{"127.0.0.1"}, cfg.OverrideHosts())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SSH_HOST", "10.0.0.5")
	t.Setenv("SSH_PORT", "2222")
	t.Setenv("REMOTE_DIR", "/srv/stack")
	t.Setenv("REMOTE_MIGRATIONS_DIR", "/var/lib/migrations")
	t.Setenv("SKIP_MIGRATIONS", "true")
	t.Setenv("PUBLIC_URLS", "https://web.example.com, https://admin.example.com,")

	cfg := LoadConfig()

	assert.Equal(t, "10.0.0.5", cfg.SSH.Host)
	assert.Equal(t, 2222, cfg.SSH.Port)
	assert.Equal(t, "root@10.0.0.5:2222", cfg.SSH.Target())
	assert.Equal(t, "/var/lib/migrations", cfg.RemoteMigrationsPath())
	assert.True(t, cfg.Migrations.Skip)
	assert.Equal(t, []string{"https://web.example.com", "https://admin.example.com"}, cfg.PublicURLs)
}

func TestLoadConfig_AllowedHosts(t *testing.T) {
	t.Setenv("SSH_HOST", "10.0.0.5")
	t.Setenv("SERVER_ALLOWED_HOSTS", "10.0.0.6, staging.example.com")

	cfg := LoadConfig()

	assert.Equal(t, []string{"10.0.0.6", "staging.example.com"}, cfg.Server.AllowedHosts)
	assert.Equal(t, []string{"10.0.0.5", "10.0.0.6", "staging.example.com"}, cfg.OverrideHosts())
}

func TestLoadConfig_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("SSH_PORT", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, 22, cfg.SSH.Port)
}

func TestLoadConfig_AppEnvironment(t *testing.T) {
	t.Setenv("SSH_HOST", "10.0.0.5")
	t.Setenv("MINIO_ROOT_USER", "storage")
	t.Setenv("MINIO_ACCESS_KEY", "")
	t.Setenv("NEXT_PUBLIC_API_BASE_URL", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("APP_ENV_FEATURE_FLAGS", "beta")
	t.Setenv("APP_ENV_POSTGRES_PASSWORD", "from-prefix")

	cfg := LoadConfig()

	accessKey, ok := cfg.App.Get("MINIO_ACCESS_KEY")
	require.True(t, ok)
	assert.Equal(t, "storage", accessKey, "access key falls back to the root user")

	apiURL, _ := cfg.App.Get("NEXT_PUBLIC_API_BASE_URL")
	assert.Equal(t, "http://10.0.0.5:8080", apiURL)

	flags, ok := cfg.App.Get("FEATURE_FLAGS")
	require.True(t, ok)
	assert.Equal(t, "beta", flags)

	password, _ := cfg.App.Get("POSTGRES_PASSWORD")
	assert.Equal(t, "from-prefix", password)

	llmKey, ok := cfg.App.Get("LLM_API_KEY")
	require.True(t, ok)
	assert.Empty(t, llmKey)
}

func TestValidate(t *testing.T) {
	base := LoadConfig()

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad host", func(c *Config) { c.SSH.Host = "bad host" }},
		{"bad port", func(c *Config) { c.SSH.Port = 0 }},
		{"empty user", func(c *Config) { c.SSH.User = "" }},
		{"relative remote dir", func(c *Config) { c.Remote.Dir = "opt/app" }},
		{"nested remote compose", func(c *Config) { c.Compose.RemoteFile = "a/b.yml" }},
		{"bad proxy", func(c *Config) { c.Compose.ProxyService = "a b" }},
		{"zero timeout", func(c *Config) { c.Migrations.ReadyTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base.WithOverrides(Overrides{})
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWithOverrides_DoesNotTouchOriginal(t *testing.T) {
	base := LoadConfig()
	base.App = Environment{{Key: "A", Value: "1"}}

	out := base.WithOverrides(Overrides{Host: "10.0.0.9", ComposeFile: "other.yml", SkipMigrations: true})
	out.App[0].Value = "changed"

	assert.Equal(t, "10.0.0.9", out.SSH.Host)
	assert.Equal(t, "other.yml", out.Compose.LocalFile)
	assert.True(t, out.Migrations.Skip)
	assert.Equal(t, "1", base.App[0].Value)
	assert.NotEqual(t, "10.0.0.9", base.SSH.Host)
}

func TestEnvironment_Render(t *testing.T) {
	env := Environment{
		{Key: "A", Value: "1"},
		{Key: "EMPTY", Value: ""},
		{Key: "B", Value: "two words"},
	}

	assert.Equal(t, "A=1\nB=two words\n", env.Render())
	assert.Equal(t, "", Environment{{Key: "X", Value: ""}}.Render())
}

func TestEnvironment_With(t *testing.T) {
	env := Environment{{Key: "A", Value: "1"}}

	replaced := env.With("A", "2")
	appended := env.With("B", "3")

	assert.Equal(t, Environment{{Key: "A", Value: "2"}}, replaced)
	assert.Equal(t, Environment{{Key: "A", Value: "1"}, {Key: "B", Value: "3"}}, appended)
	assert.Equal(t, "1", env[0].Value)
}
