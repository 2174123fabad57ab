package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"compose-deploy/pkg/utils"
)

const (
	AuthKey      = "key"
	AuthPassword = "password"

	TransferSFTP   = "sftp"
	TransferStream = "stream"
)

var (
	ErrNoCredentials = errors.New("SSH_KEY_PATH or SSH_PASSWORD must be configured")
	ErrNotConnected  = errors.New("SSH connection not established")
)

type SSHConfig struct {
	Host           string
	Port           int
	Username       string
	KeyPath        string
	Password       string
	Passphrase     string
	KnownHostsPath string
	Timeout        time.Duration
}

type Client struct {
	config   SSHConfig
	authType string
	conn     *ssh.Client
	sftp     *sftp.Client
	sftpErr  error
}

type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func NewClient(config SSHConfig) *Client {
	return &Client{
		config: config,
	}
}

// ResolveAuth picks the authentication method: a readable key file wins,
// then a password. Neither yields ErrNoCredentials.
func ResolveAuth(config SSHConfig) (string, ssh.AuthMethod, error) {
	keyPath, err := expandPath(config.KeyPath)
	if err != nil {
		return "", nil, err
	}

	if keyPath != "" {
		if _, statErr := os.Stat(keyPath); statErr == nil {
			pem, err := os.ReadFile(keyPath)
			if err != nil {
				return "", nil, fmt.Errorf("read private key %s: %w", keyPath, err)
			}
			signer, err := parsePrivateKey(pem, config.Passphrase)
			if err != nil {
				return "", nil, fmt.Errorf("parse private key %s: %w", keyPath, err)
			}
			return AuthKey, ssh.PublicKeys(signer), nil
		}
	}

	if config.Password != "" {
		return AuthPassword, ssh.Password(config.Password), nil
	}

	return "", nil, ErrNoCredentials
}

func parsePrivateKey(privateKey []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(privateKey)
}

func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.config.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path, err := expandPath(c.config.KnownHostsPath)
	if err != nil {
		return nil, err
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return callback, nil
}

// Connect dials the host and opens the SFTP channel. A server without the
// SFTP subsystem is not an error; uploads then stream through exec sessions.
func (c *Client) Connect() error {
	authType, auth, err := ResolveAuth(c.config)
	if err != nil {
		return err
	}
	c.authType = authType

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return err
	}

	timeout := c.config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	config := &ssh.ClientConfig{
		User:            c.config.Username,
		Auth:            []ssh.AuthMethod{auth},
		Timeout:         timeout,
		HostKeyCallback: hostKeyCallback,
	}

	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	c.conn = conn

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		c.sftpErr = err
		return nil
	}
	c.sftp = sftpClient
	return nil
}

// AuthType reports which credentials Connect used.
func (c *Client) AuthType() string {
	return c.authType
}

// TransferMode reports how Upload moves files, and why SFTP is not in use.
func (c *Client) TransferMode() (string, error) {
	if c.sftp != nil {
		return TransferSFTP, nil
	}
	return TransferStream, c.sftpErr
}

// Run executes cmd and waits for it. A non-zero exit status is reported in
// the result, not as an error; errors mean the command could not be run.
func (c *Client) Run(ctx context.Context, cmd string, stdin io.Reader) (*CommandResult, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGINT)
		_ = session.Close()
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &CommandResult{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		var missingErr *ssh.ExitMissingError
		if errors.As(err, &missingErr) {
			result.ExitCode = -1
			return result, nil
		}
		return result, fmt.Errorf("run command: %w", err)
	}

	return result, nil
}

// Upload copies a local file to remotePath. The parent directory must exist.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	if c.sftp == nil {
		return c.streamUpload(ctx, src, remotePath)
	}

	dst, err := c.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote file %s: %w", remotePath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("write remote file %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close remote file %s: %w", remotePath, err)
	}
	return nil
}

func (c *Client) streamUpload(ctx context.Context, src io.Reader, remotePath string) error {
	cmd := fmt.Sprintf("cat > %s", utils.ShellQuote(remotePath))
	result, err := c.Run(ctx, cmd, src)
	if err != nil {
		return fmt.Errorf("stream %s: %w", remotePath, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("stream %s: exit status %d: %s", remotePath, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Close releases the SFTP channel and the SSH connection. Safe to call more
// than once.
func (c *Client) Close() error {
	var errs []error
	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sftp: %w", err))
		}
		c.sftp = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close ssh: %w", err))
		}
		c.conn = nil
	}
	return errors.Join(errs...)
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", p, err)
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
	}
	return p, nil
}
