package utils

import "fmt"

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func NewSSHError(err error) *APIError {
	return &APIError{
		Code:    1001,
		Message: "SSH connection error",
		Details: err.Error(),
	}
}

func NewDeployError(step string, err error) *APIError {
	return &APIError{
		Code:    2001,
		Message: fmt.Sprintf("deploy step %s failed", step),
		Details: err.Error(),
	}
}

func NewConflictError(details string) *APIError {
	return &APIError{
		Code:    2002,
		Message: "deploy already in progress",
		Details: details,
	}
}

func NewValidationError(field string, value interface{}) *APIError {
	return &APIError{
		Code:    3001,
		Message: fmt.Sprintf("invalid parameter: %s", field),
		Details: fmt.Sprintf("invalid value: %v", value),
	}
}

func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    4004,
		Message: fmt.Sprintf("%s not found", resource),
		Details: id,
	}
}

func NewSystemError(err error) *APIError {
	return &APIError{
		Code:    5001,
		Message: "system error",
		Details: err.Error(),
	}
}
