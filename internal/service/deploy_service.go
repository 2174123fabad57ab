package service

import (
	"context"
	"fmt"
	"os"
	"strings"

	"compose-deploy/internal/compose"
	"compose-deploy/internal/config"
	"compose-deploy/internal/pkg/console"
	"compose-deploy/internal/pkg/logger"
	"compose-deploy/internal/pkg/ssh"
	"compose-deploy/pkg/utils"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateDeploying    State = "deploying"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// StepObserver is told when each deploy step starts. index is 1-based.
type StepObserver func(index, total int, step string)

type Option func(*DeployService)

func WithStepObserver(observer StepObserver) Option {
	return func(s *DeployService) {
		s.observer = observer
	}
}

// DeployService runs one deploy against one host. It is single use: Connect,
// Deploy, Close.
type DeployService struct {
	cfg        config.Config
	dial       Dialer
	remote     Remote
	console    *console.Console
	logger     *logger.Logger
	state      State
	authMethod string
	observer   StepObserver
}

func NewDeployService(cfg config.Config, dial Dialer, out *console.Console, log *logger.Logger, opts ...Option) *DeployService {
	s := &DeployService{
		cfg:     cfg,
		dial:    dial,
		console: out,
		logger:  log,
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DeployService) State() State {
	return s.state
}

// AuthMethod reports the credentials Connect used, "key" or "password".
func (s *DeployService) AuthMethod() string {
	return s.authMethod
}

// Connect opens the remote session. It may only be called once.
func (s *DeployService) Connect(ctx context.Context) error {
	if s.remote != nil || s.state != StateDisconnected {
		return ErrAlreadyConnected
	}

	method, _, err := ssh.ResolveAuth(clientConfig(s.cfg.SSH))
	if err != nil {
		s.console.Fail("%v", err)
		return err
	}

	target := s.cfg.SSH.Target()
	s.logger.SSHConnectionAttempt(method, target)
	s.console.Step("Connecting to %s (%s auth)", target, method)

	remote, err := s.dial(ctx, s.cfg.SSH)
	if err != nil {
		s.console.Fail("connection to %s failed: %v", target, err)
		return &ConnectError{Target: target, Err: err}
	}
	s.remote = remote
	s.authMethod = method
	s.state = StateConnected

	if reporter, ok := remote.(transferReporter); ok {
		if mode, reason := reporter.TransferMode(); mode != ssh.TransferSFTP {
			s.console.Warn("SFTP unavailable (%v), streaming uploads over exec", reason)
			s.logger.Warnw("sftp subsystem unavailable", "target", target, "error", reason)
		}
	}

	s.console.Success("connected")
	return nil
}

// Close releases the remote session. Safe to call in any state.
func (s *DeployService) Close() error {
	if s.remote == nil {
		return nil
	}
	err := s.remote.Close()
	s.remote = nil
	if s.state == StateConnected {
		s.state = StateDisconnected
	}
	return err
}

// Run connects, deploys and always closes the session.
func (s *DeployService) Run(ctx context.Context) (err error) {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			s.logger.Warnw("close remote session", "error", closeErr)
		}
	}()
	return s.Deploy(ctx)
}

type deployStep struct {
	name  string
	title string
	run   func(ctx context.Context) error
}

func (s *DeployService) steps() []deployStep {
	return []deployStep{
		{"remote-dir", "Preparing remote directory", s.ensureRemoteDir},
		{"check-docker", "Checking container tooling", s.checkDocker},
		{"upload-compose", "Uploading compose file", s.uploadCompose},
		{"environment", "Writing environment file", s.writeEnvironment},
		{"registry-login", "Logging in to registry", s.registryLogin},
		{"pull", "Pulling images", s.pullImages},
		{"stop-proxy", "Removing reverse proxy container", s.stopProxy},
		{"up", "Starting services", s.startServices},
		{"migrations", "Applying database migrations", s.migrations},
		{"restart-proxy", "Restarting reverse proxy", s.restartProxy},
		{"status", "Service status", s.status},
	}
}

// Deploy runs the fixed deploy sequence over an open session and stops at
// the first fatal error. Nothing is rolled back.
func (s *DeployService) Deploy(ctx context.Context) error {
	if s.state != StateConnected {
		return ErrNotDeployable
	}

	if err := s.preflight(ctx); err != nil {
		s.state = StateFailed
		s.console.Fail("%v", err)
		return err
	}

	s.state = StateDeploying
	steps := s.steps()
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return s.fail(step.name, err)
		}
		if s.observer != nil {
			s.observer(i+1, len(steps), step.name)
		}
		s.logger.DeploymentStep(step.name, s.cfg.SSH.Host)
		s.console.Step("%s", step.title)

		if err := step.run(ctx); err != nil {
			return s.fail(step.name, err)
		}
		s.logger.DeploymentSuccess(step.name)
	}

	s.state = StateCompleted
	s.printSummary()
	return nil
}

func (s *DeployService) fail(step string, err error) error {
	s.state = StateFailed
	s.logger.DeploymentError(step, err)
	s.console.Fail("%s failed: %v", step, err)
	return &StepError{Step: step, Err: err}
}

// preflight runs local checks only; no remote command is issued before the
// compose file is known to exist.
func (s *DeployService) preflight(ctx context.Context) error {
	local := s.cfg.Compose.LocalFile
	if info, err := os.Stat(local); err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrComposeFileMissing, local)
	}

	summary, err := compose.Inspect(ctx, local)
	if err != nil {
		s.console.Warn("could not inspect %s: %v", local, err)
		s.logger.Warnw("compose inspection failed", "file", local, "error", err)
		return nil
	}
	s.logger.Infow("compose file inspected", "file", local, "services", summary.Services)
	if !summary.Has(s.cfg.Compose.ProxyService) {
		s.console.Warn("service %q is not declared in %s", s.cfg.Compose.ProxyService, local)
	}
	if !s.cfg.Migrations.Skip && !summary.Has(s.cfg.Migrations.DBService) {
		s.console.Warn("service %q is not declared in %s", s.cfg.Migrations.DBService, local)
	}
	return nil
}

// compose builds a docker compose invocation run from the remote directory.
func (s *DeployService) compose(args string) string {
	return fmt.Sprintf("cd %s && docker compose -f %s %s",
		utils.ShellQuote(s.cfg.Remote.Dir),
		utils.ShellQuote(s.cfg.Compose.RemoteFile),
		args)
}

func (s *DeployService) ensureRemoteDir(ctx context.Context) error {
	_, err := s.Execute(ctx, "mkdir -p "+utils.ShellQuote(s.cfg.Remote.Dir), Required)
	return err
}

func (s *DeployService) checkDocker(ctx context.Context) error {
	if _, err := s.Execute(ctx, "docker --version", Required); err != nil {
		return err
	}
	_, err := s.Execute(ctx, "docker compose version", Required)
	return err
}

func (s *DeployService) uploadCompose(ctx context.Context) error {
	if err := s.UploadFile(ctx, s.cfg.Compose.LocalFile, s.cfg.RemoteComposePath()); err != nil {
		return fmt.Errorf("%w: %w", ErrComposeUploadFailed, err)
	}
	s.console.Success("compose file uploaded")
	return nil
}

func (s *DeployService) writeEnvironment(ctx context.Context) error {
	if err := s.CreateEnvironmentFile(ctx, s.cfg.App); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.console.Warn("environment file not uploaded: %v", err)
	}
	return nil
}

func (s *DeployService) registryLogin(ctx context.Context) error {
	reg := s.cfg.Registry
	if reg.Token == "" {
		s.console.Warn("GHCR_TOKEN not set, skipping registry login")
		s.console.Warn("pulling private images from %s will fail without it", reg.Host)
		return nil
	}

	cmd := fmt.Sprintf("docker login %s -u %s --password-stdin",
		utils.ShellQuote(reg.Host), utils.ShellQuote(reg.Username))
	_, err := s.exec(ctx, remoteCommand{
		command: cmd,
		stdin:   strings.NewReader(reg.Token),
		mode:    Required,
	})
	return err
}

func (s *DeployService) pullImages(ctx context.Context) error {
	_, err := s.Execute(ctx, s.compose("pull"), Required)
	return err
}

func (s *DeployService) stopProxy(ctx context.Context) error {
	proxy := utils.ShellQuote(s.cfg.Compose.ProxyService)
	if _, err := s.Execute(ctx, s.compose("stop "+proxy), BestEffort); err != nil {
		return err
	}
	_, err := s.Execute(ctx, s.compose("rm -f "+proxy), BestEffort)
	return err
}

func (s *DeployService) startServices(ctx context.Context) error {
	_, err := s.Execute(ctx, s.compose("up -d --remove-orphans"), Required)
	return err
}

func (s *DeployService) migrations(ctx context.Context) error {
	if s.cfg.Migrations.Skip {
		s.console.Info("migrations skipped")
		return nil
	}
	return s.RunMigrations(ctx)
}

func (s *DeployService) restartProxy(ctx context.Context) error {
	_, err := s.Execute(ctx, s.compose("restart "+utils.ShellQuote(s.cfg.Compose.ProxyService)), Required)
	return err
}

func (s *DeployService) status(ctx context.Context) error {
	_, err := s.Execute(ctx, s.compose("ps"), BestEffort)
	return err
}

func (s *DeployService) printSummary() {
	c := s.console
	remoteCompose := fmt.Sprintf("cd %s && docker compose -f %s", s.cfg.Remote.Dir, s.cfg.Compose.RemoteFile)
	sshCmd := fmt.Sprintf("ssh -p %d %s@%s", s.cfg.SSH.Port, s.cfg.SSH.User, s.cfg.SSH.Host)

	c.Rule()
	c.Success("Deploy to %s completed", s.cfg.SSH.Host)
	c.Rule()
	c.Info("Follow logs:      %s '%s logs -f'", sshCmd, remoteCompose)
	c.Info("Service status:   %s '%s ps'", sshCmd, remoteCompose)
	c.Info("Restart services: %s '%s restart'", sshCmd, remoteCompose)

	urls := s.cfg.PublicURLs
	if len(urls) == 0 {
		for _, key := range []string{"NEXT_PUBLIC_API_BASE_URL", "NEXT_PUBLIC_ADMIN_API_BASE_URL", "NEXT_PUBLIC_REPORT_SERVICE_URL"} {
			if v, ok := s.cfg.App.Get(key); ok && v != "" {
				urls = append(urls, v)
			}
		}
	}
	if len(urls) > 0 {
		c.Info("")
		c.Info("Expected URLs:")
		for _, u := range urls {
			c.Info("  %s", u)
		}
	}
}
