package model

import "time"

type SSHTestResponse struct {
	Success bool     `json:"success"`
	Code    int      `json:"code,omitempty"`
	Message string   `json:"message,omitempty"`
	Target  string   `json:"target,omitempty"`
	Details []string `json:"details,omitempty"`
}

type DeployResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
}

type ProgressResponse struct {
	Success    bool       `json:"success"`
	TaskID     string     `json:"taskId"`
	Host       string     `json:"host"`
	Status     string     `json:"status"`
	Step       string     `json:"step,omitempty"`
	Progress   float64    `json:"progress"`
	Logs       []string   `json:"logs"`
	Error      string     `json:"error,omitempty"`
	ErrorCode  int        `json:"errorCode,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type RunResponse struct {
	ID         string     `json:"id"`
	Host       string     `json:"host"`
	RemoteDir  string     `json:"remoteDir"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type HistoryResponse struct {
	Success bool          `json:"success"`
	Runs    []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
