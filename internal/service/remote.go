package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"compose-deploy/internal/config"
	"compose-deploy/internal/pkg/ssh"
	"compose-deploy/pkg/utils"
)

// Remote is an open session on the target host. Commands and transfers
// are issued one at a time.
type Remote interface {
	Run(ctx context.Context, cmd string, stdin io.Reader) (*ssh.CommandResult, error)
	Upload(ctx context.Context, localPath, remotePath string) error
	Close() error
}

type transferReporter interface {
	TransferMode() (string, error)
}

// Dialer opens a Remote for the given SSH settings.
type Dialer func(ctx context.Context, cfg config.SSHConfig) (Remote, error)

func clientConfig(cfg config.SSHConfig) ssh.SSHConfig {
	return ssh.SSHConfig{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Username:       cfg.User,
		KeyPath:        cfg.KeyPath,
		Password:       cfg.Password,
		Passphrase:     cfg.Passphrase,
		KnownHostsPath: cfg.KnownHostsPath,
		Timeout:        cfg.ConnectTimeout,
	}
}

// DialSSH is the production Dialer.
func DialSSH(ctx context.Context, cfg config.SSHConfig) (Remote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client := ssh.NewClient(clientConfig(cfg))
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

type ExecMode int

const (
	// Required commands abort the deploy when they exit non-zero.
	Required ExecMode = iota
	// BestEffort commands are allowed to fail.
	BestEffort
)

type Outcome int

const (
	Succeeded Outcome = iota
	Tolerated
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Tolerated:
		return "tolerated"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type ExecResult struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Outcome  Outcome
}

type remoteCommand struct {
	command string
	stdin   io.Reader
	mode    ExecMode
	quiet   bool
}

// Execute runs command on the remote host and echoes its output. A non-zero
// exit is fatal in Required mode and tolerated in BestEffort mode. Transport
// failures are always returned as errors.
func (s *DeployService) Execute(ctx context.Context, command string, mode ExecMode) (*ExecResult, error) {
	return s.exec(ctx, remoteCommand{command: command, mode: mode})
}

func (s *DeployService) exec(ctx context.Context, rc remoteCommand) (*ExecResult, error) {
	if s.remote == nil {
		return nil, ssh.ErrNotConnected
	}

	shown := rc.command
	if !rc.quiet {
		s.console.Command(shown)
	}
	s.logger.Debugw("executing remote command", "command", shown)

	res, err := s.remote.Run(ctx, rc.command, rc.stdin)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", shown, err)
	}

	result := &ExecResult{
		Command:  shown,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	}
	if !rc.quiet {
		s.console.Output(res.Stdout, res.Stderr)
	}

	if res.ExitCode == 0 {
		result.Outcome = Succeeded
		return result, nil
	}

	if rc.mode == BestEffort {
		result.Outcome = Tolerated
		if !rc.quiet {
			s.console.Warn("command exited with status %d, continuing", res.ExitCode)
		}
		s.logger.Warnw("best-effort command failed", "command", shown, "exit_code", res.ExitCode)
		return result, nil
	}

	result.Outcome = Fatal
	return result, &CommandError{Command: shown, ExitCode: res.ExitCode, Stderr: res.Stderr}
}

// UploadFile copies a local file to remotePath, creating the remote parent
// directory first. A missing local file is reported with a warning and
// ErrLocalPathMissing; nothing is transferred.
func (s *DeployService) UploadFile(ctx context.Context, localPath, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil || info.IsDir() {
		s.console.Warn("local file %s not found, skipping upload", localPath)
		return fmt.Errorf("%w: %s", ErrLocalPathMissing, localPath)
	}

	if _, err := s.exec(ctx, remoteCommand{
		command: "mkdir -p " + utils.ShellQuote(path.Dir(remotePath)),
		mode:    BestEffort,
		quiet:   true,
	}); err != nil {
		return err
	}

	return s.transfer(ctx, localPath, remotePath)
}

func (s *DeployService) transfer(ctx context.Context, localPath, remotePath string) error {
	if s.remote == nil {
		return ssh.ErrNotConnected
	}
	s.console.Info("upload %s -> %s", localPath, remotePath)
	if err := s.remote.Upload(ctx, localPath, remotePath); err != nil {
		s.logger.Errorw("upload failed", "local", localPath, "remote", remotePath, "error", err)
		return fmt.Errorf("upload %s: %w", localPath, err)
	}
	return nil
}

type uploadEntry struct {
	local  string
	remote string
	dir    bool
}

// UploadDirectory mirrors localDir under remoteDir. Entries are visited in
// name order, depth first, using an explicit work stack. Every file is
// uploaded on every call. A failed file does not stop the walk; the
// failures are reported together at the end.
func (s *DeployService) UploadDirectory(ctx context.Context, localDir, remoteDir string) error {
	info, err := os.Stat(localDir)
	if err != nil || !info.IsDir() {
		s.console.Warn("local directory %s not found, skipping upload", localDir)
		return fmt.Errorf("%w: %s", ErrLocalPathMissing, localDir)
	}

	stack := []uploadEntry{{local: localDir, remote: remoteDir, dir: true}}
	var failed []string
	uploaded := 0

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !entry.dir {
			if err := s.transfer(ctx, entry.local, entry.remote); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed = append(failed, entry.local)
				continue
			}
			uploaded++
			continue
		}

		if _, err := s.exec(ctx, remoteCommand{
			command: "mkdir -p " + utils.ShellQuote(entry.remote),
			mode:    BestEffort,
			quiet:   true,
		}); err != nil {
			return err
		}

		// os.ReadDir returns entries sorted by name; push them in reverse
		// so they pop in order.
		children, err := os.ReadDir(entry.local)
		if err != nil {
			return fmt.Errorf("read directory %s: %w", entry.local, err)
		}
		for i := len(children) - 1; i >= 0; i-- {
			child := children[i]
			stack = append(stack, uploadEntry{
				local:  filepath.Join(entry.local, child.Name()),
				remote: path.Join(entry.remote, child.Name()),
				dir:    child.IsDir(),
			})
		}
	}

	s.logger.Infow("directory uploaded", "local", localDir, "remote", remoteDir, "files", uploaded, "failed", len(failed))
	if len(failed) > 0 {
		return fmt.Errorf("upload %s: %d file(s) failed: %s", localDir, len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// CreateEnvironmentFile renders env, writes it to a local temp file and
// uploads it as the remote .env file. The temp file is removed only after a
// successful upload.
func (s *DeployService) CreateEnvironmentFile(ctx context.Context, env config.Environment) error {
	content := env.Render()

	tmp, err := os.CreateTemp("", "compose-deploy-*.env")
	if err != nil {
		return fmt.Errorf("create temp env file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp env file: %w", err)
	}

	if err := s.UploadFile(ctx, tmpPath, s.cfg.RemoteEnvPath()); err != nil {
		s.logger.Warnw("env file left on disk after failed upload", "path", tmpPath)
		return err
	}

	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnw("remove temp env file", "path", tmpPath, "error", err)
	}
	s.console.Success("environment file written (%d variables)", len(env.NonEmpty()))
	return nil
}
