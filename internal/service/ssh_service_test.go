package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"compose-deploy/internal/config"
	"compose-deploy/internal/pkg/logger"
	"compose-deploy/internal/pkg/ssh"
)

func TestSSHService_TestConnection(t *testing.T) {
	remote := newFakeRemote()
	remote.respond = func(cmd string) (*ssh.CommandResult, error) {
		return &ssh.CommandResult{Stdout: "out of " + cmd + "\n"}, nil
	}
	svc := NewSSHService(dialerFor(remote, nil), logger.NewNop())

	resp := svc.TestConnection(context.Background(), testConfig(t).SSH)

	assert.True(t, resp.Success)
	assert.Equal(t, "root@10.0.0.5:22", resp.Target)
	assert.Equal(t, []string{"whoami", "uname -a", "docker --version", "docker compose version"}, remote.Commands())
	assert.Contains(t, resp.Details[0], "password auth")
	assert.Contains(t, strings.Join(resp.Details, "\n"), "✓ docker: out of docker --version")
	assert.Equal(t, 1, remote.Closed())
}

func TestSSHService_MissingDocker(t *testing.T) {
	remote := newFakeRemote()
	remote.respond = func(cmd string) (*ssh.CommandResult, error) {
		if strings.HasPrefix(cmd, "docker") {
			return exitWith(127, "docker: command not found")
		}
		return &ssh.CommandResult{Stdout: "root\n"}, nil
	}
	svc := NewSSHService(dialerFor(remote, nil), logger.NewNop())

	resp := svc.TestConnection(context.Background(), testConfig(t).SSH)

	assert.False(t, resp.Success)
	assert.Contains(t, strings.Join(resp.Details, "\n"), "✗ docker: exit 127 docker: command not found")
}

func TestSSHService_DialFailure(t *testing.T) {
	dial := func(context.Context, config.SSHConfig) (Remote, error) {
		return nil, errors.New("i/o timeout")
	}
	svc := NewSSHService(dial, logger.NewNop())

	resp := svc.TestConnection(context.Background(), testConfig(t).SSH)

	assert.False(t, resp.Success)
	assert.Equal(t, 1001, resp.Code)
	assert.Equal(t, "SSH connection error", resp.Message)
	assert.Contains(t, resp.Details, "error: i/o timeout")
}

func TestSSHService_NoCredentials(t *testing.T) {
	cfg := testConfig(t).SSH
	cfg.Password = ""
	dials := 0
	svc := NewSSHService(dialerFor(newFakeRemote(), &dials), logger.NewNop())

	resp := svc.TestConnection(context.Background(), cfg)

	assert.False(t, resp.Success)
	assert.Equal(t, 0, dials)
}
