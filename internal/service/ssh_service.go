package service

import (
	"context"
	"fmt"
	"strings"

	"compose-deploy/internal/config"
	"compose-deploy/internal/model"
	"compose-deploy/internal/pkg/logger"
	"compose-deploy/internal/pkg/ssh"
	"compose-deploy/pkg/utils"
)

type SSHService struct {
	dial   Dialer
	logger *logger.Logger
}

func NewSSHService(dial Dialer, logger *logger.Logger) *SSHService {
	return &SSHService{
		dial:   dial,
		logger: logger,
	}
}

var connectionChecks = []struct {
	label    string
	command  string
	required bool
}{
	{"user", "whoami", false},
	{"system", "uname -a", false},
	{"docker", "docker --version", true},
	{"compose", "docker compose version", true},
}

// TestConnection opens a session with cfg and checks that the host can run
// the container tooling a deploy needs.
func (s *SSHService) TestConnection(ctx context.Context, cfg config.SSHConfig) *model.SSHTestResponse {
	target := cfg.Target()
	method, _, err := ssh.ResolveAuth(clientConfig(cfg))
	if err != nil {
		return &model.SSHTestResponse{
			Success: false,
			Message: "SSH credentials not configured",
			Target:  target,
			Details: []string{fmt.Sprintf("✗ %v", err)},
		}
	}
	s.logger.SSHConnectionAttempt(method, target)

	remote, err := s.dial(ctx, cfg)
	if err != nil {
		s.logger.Errorf("SSH connection failed for %s: %v", target, err)
		apiErr := utils.NewSSHError(err)
		return &model.SSHTestResponse{
			Success: false,
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Target:  target,
			Details: []string{"✗ " + apiErr.Message, "error: " + apiErr.Details},
		}
	}
	defer remote.Close()

	details := []string{fmt.Sprintf("✓ SSH connection established (%s auth)", method)}
	if reporter, ok := remote.(transferReporter); ok {
		if mode, _ := reporter.TransferMode(); mode != ssh.TransferSFTP {
			details = append(details, "! SFTP unavailable, uploads will stream over exec")
		}
	}

	success := true
	for _, check := range connectionChecks {
		result, err := remote.Run(ctx, check.command, nil)
		switch {
		case err != nil:
			details = append(details, fmt.Sprintf("✗ %s: %v", check.label, err))
		case result.ExitCode != 0:
			details = append(details, fmt.Sprintf("✗ %s: exit %d %s", check.label, result.ExitCode, strings.TrimSpace(result.Stderr)))
		default:
			details = append(details, fmt.Sprintf("✓ %s: %s", check.label, strings.TrimSpace(result.Stdout)))
			continue
		}
		if check.required {
			success = false
		}
	}

	message := "host is ready for deploys"
	if !success {
		message = "host is missing container tooling"
	}
	s.logger.Infow("SSH check finished", "target", target, "success", success)
	return &model.SSHTestResponse{
		Success: success,
		Message: message,
		Target:  target,
		Details: details,
	}
}
