package service

import (
	"errors"
	"fmt"
	"strings"

	"compose-deploy/pkg/utils"
)

var (
	ErrComposeFileMissing  = errors.New("local compose file not found")
	ErrComposeUploadFailed = errors.New("compose file upload failed")
	ErrLocalPathMissing    = errors.New("local path not found")
	ErrDatabaseNotReady    = errors.New("database did not become ready")
	ErrDeployInProgress    = errors.New("a deploy is already running")
	ErrAlreadyConnected    = errors.New("remote session already opened")
	ErrNotDeployable       = errors.New("deploy requires a fresh connected session")
)

// CommandError is returned when a required remote command exits non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// StepError names the deploy step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ConnectError is returned when the SSH session cannot be opened.
type ConnectError struct {
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// DescribeError maps a deploy failure to the API error reported to clients.
func DescribeError(err error) *utils.APIError {
	var (
		apiErr  *utils.APIError
		stepErr *StepError
		connErr *ConnectError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &stepErr):
		return utils.NewDeployError(stepErr.Step, stepErr.Err)
	case errors.As(err, &connErr):
		return utils.NewSSHError(connErr.Err)
	case errors.Is(err, ErrComposeFileMissing):
		return utils.NewDeployError("preflight", err)
	default:
		return utils.NewSystemError(err)
	}
}
