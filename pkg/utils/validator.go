package utils

import (
	"fmt"
	"net"
	"path"
	"regexp"
	"strings"
)

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// ValidateHost accepts an IP address or a DNS hostname.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 || !hostnamePattern.MatchString(host) {
		return fmt.Errorf("invalid host: %s", host)
	}
	return nil
}

func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be within 1-65535: %d", port)
	}
	return nil
}

func ValidateRemoteDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("remote directory must not be empty")
	}
	if !path.IsAbs(dir) {
		return fmt.Errorf("remote directory must be absolute: %s", dir)
	}
	if path.Clean(dir) == "/" {
		return fmt.Errorf("remote directory must not be the filesystem root")
	}
	return nil
}

// ValidateServiceName checks a compose service name.
func ValidateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("service name must not be empty")
	}
	for _, char := range name {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' || char == '.') {
			return fmt.Errorf("service name may only contain letters, digits, '.', '-' and '_': %s", name)
		}
	}
	return nil
}

// ShellQuote returns s unchanged when it only holds characters that are
// safe in a POSIX shell word, otherwise it wraps s in single quotes.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, char := range s {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') ||
			strings.ContainsRune("_-./:=@%+,", char)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
