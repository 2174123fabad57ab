package service

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
	cryptossh "golang.org/x/crypto/ssh"

	"compose-deploy/internal/config"
	"compose-deploy/internal/pkg/console"
	"compose-deploy/internal/pkg/logger"
	"compose-deploy/internal/pkg/ssh"
)

func init() {
	color.NoColor = true
}

// =============================================================================
// Fake remote session
// =============================================================================

type remoteCall struct {
	Kind    string // "run" or "upload"
	Command string
	Stdin   string
	Local   string
	Remote  string
	Content string
}

type fakeRemote struct {
	mu      sync.Mutex
	calls   []remoteCall
	respond func(cmd string) (*ssh.CommandResult, error)
	failPut func(local, remote string) error
	// hang makes matching commands block until their context ends, as a
	// stuck remote process would.
	hang     func(cmd string) bool
	closed   int
	transfer string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{transfer: ssh.TransferSFTP}
}

func (f *fakeRemote) Run(ctx context.Context, cmd string, stdin io.Reader) (*ssh.CommandResult, error) {
	var in string
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		in = string(b)
	}
	f.mu.Lock()
	f.calls = append(f.calls, remoteCall{Kind: "run", Command: cmd, Stdin: in})
	respond := f.respond
	hang := f.hang
	f.mu.Unlock()

	if hang != nil && hang(cmd) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if respond != nil {
		return respond(cmd)
	}
	return &ssh.CommandResult{}, nil
}

func (f *fakeRemote) Upload(_ context.Context, localPath, remotePath string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, remoteCall{Kind: "upload", Local: localPath, Remote: remotePath, Content: string(content)})
	failPut := f.failPut
	f.mu.Unlock()

	if failPut != nil {
		return failPut(localPath, remotePath)
	}
	return nil
}

func (f *fakeRemote) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeRemote) TransferMode() (string, error) {
	return f.transfer, nil
}

func (f *fakeRemote) Calls() []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remoteCall(nil), f.calls...)
}

// Commands returns every run command in order.
func (f *fakeRemote) Commands() []string {
	var cmds []string
	for _, c := range f.Calls() {
		if c.Kind == "run" {
			cmds = append(cmds, c.Command)
		}
	}
	return cmds
}

func (f *fakeRemote) Uploads() []remoteCall {
	var ups []remoteCall
	for _, c := range f.Calls() {
		if c.Kind == "upload" {
			ups = append(ups, c)
		}
	}
	return ups
}

func (f *fakeRemote) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func exitWith(code int, stderr string) (*ssh.CommandResult, error) {
	return &ssh.CommandResult{ExitCode: code, Stderr: stderr}, nil
}

// =============================================================================
// Test Helpers
// =============================================================================

const testCompose = `services:
  traefik:
    image: traefik:v3.1
  postgres:
    image: postgres:16
  web:
    image: ghcr.io/acme/web:latest
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	composePath := filepath.Join(dir, "docker-compose.production.yml")
	require.NoError(t, os.WriteFile(composePath, []byte(testCompose), 0o644))

	return config.Config{
		SSH: config.SSHConfig{
			Host:           "10.0.0.5",
			Port:           22,
			User:           "root",
			Password:       "secret",
			ConnectTimeout: time.Second,
		},
		Remote:   config.RemoteConfig{Dir: "/opt/app"},
		Registry: config.RegistryConfig{Host: "ghcr.io", Username: "deploy", Token: "ghp_token"},
		Compose: config.ComposeConfig{
			LocalFile:    composePath,
			RemoteFile:   "docker-compose.production.yml",
			ProxyService: "traefik",
		},
		Migrations: config.MigrationsConfig{
			LocalDir:      filepath.Join(dir, "migrations"),
			RemoteDir:     "db/migrations",
			DBService:     "postgres",
			DBUser:        "app",
			DBName:        "app",
			ReadyTimeout:  time.Second,
			ReadyInterval: 5 * time.Millisecond,
		},
		App: config.Environment{
			{Key: "POSTGRES_PASSWORD", Value: "pw"},
			{Key: "LLM_API_KEY", Value: ""},
			{Key: "LETSENCRYPT_EMAIL", Value: "ops@example.com"},
		},
	}
}

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := cryptossh.MarshalPrivateKey(priv, "deploy")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func dialerFor(remote Remote, dials *int) Dialer {
	return func(_ context.Context, _ config.SSHConfig) (Remote, error) {
		if dials != nil {
			*dials++
		}
		return remote, nil
	}
}

// newConnectedService returns a service already connected to remote, and
// the buffer receiving its console output.
func newConnectedService(t *testing.T, cfg config.Config, remote *fakeRemote, opts ...Option) (*DeployService, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	s := NewDeployService(cfg, dialerFor(remote, nil), console.New(&out, &out), logger.NewNop(), opts...)
	require.NoError(t, s.Connect(context.Background()))
	return s, &out
}

func indexOf(cmds []string, substr string) int {
	for i, c := range cmds {
		if strings.Contains(c, substr) {
			return i
		}
	}
	return -1
}

func countOf(cmds []string, substr string) int {
	n := 0
	for _, c := range cmds {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}
