// Package types provides core domain types and validation utilities for the exporter.
// It defines the inverter identity (DeviceName) and the target host of a device
// together with their validation rules.
package types

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DeviceName is the unique, human-readable identity of a configured inverter.
// It is used verbatim as the value of the "inverter" metric label.
type DeviceName string

// Scheme is the URL scheme used to reach a device status page.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

var (
	// ErrInvalidDeviceName is returned when a device name is invalid.
	ErrInvalidDeviceName = errors.New("invalid device name")
	// ErrInvalidHostname is returned when a hostname format is invalid.
	ErrInvalidHostname = errors.New("invalid hostname format")
	// ErrInvalidScheme is returned when a scheme is neither http nor https.
	ErrInvalidScheme = errors.New("invalid scheme")

	hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
)

// NewDeviceName creates a new DeviceName with validation. Any printable UTF-8
// text is accepted since the name is only ever used as a label value.
func NewDeviceName(name string) (DeviceName, error) {
	if name == "" {
		return "", fmt.Errorf("%w: cannot be empty", ErrInvalidDeviceName)
	}
	if len(name) > 253 {
		return "", fmt.Errorf("%w: too long: %d characters", ErrInvalidDeviceName, len(name))
	}
	if !validDeviceName(name) {
		return "", fmt.Errorf("%w: invalid format: %q", ErrInvalidDeviceName, name)
	}
	return DeviceName(name), nil
}

// IsValid checks if the DeviceName meets validation requirements.
func (d DeviceName) IsValid() bool {
	return len(d) > 0 && len(d) <= 253 && validDeviceName(string(d))
}

func validDeviceName(s string) bool {
	if !utf8.ValidString(s) || strings.TrimSpace(s) != s {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func (d DeviceName) String() string {
	return string(d)
}

// ParseScheme normalizes and validates a URL scheme. Empty means http.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "http":
		return SchemeHTTP, nil
	case "https":
		return SchemeHTTPS, nil
	default:
		return "", fmt.Errorf("%w: %q (expected http or https)", ErrInvalidScheme, s)
	}
}

// ValidateHost validates the host part of a device target. An optional port is
// allowed. Private and loopback addresses are accepted since inverter data
// loggers almost always live on the local network.
func ValidateHost(host string) error {
	if len(host) == 0 {
		return fmt.Errorf("%w: hostname cannot be empty", ErrInvalidHostname)
	}
	if strings.ContainsAny(host, "\r\n/ ") {
		return fmt.Errorf("%w: hostname contains invalid characters", ErrInvalidHostname)
	}

	hostname := host
	if h, port, err := net.SplitHostPort(host); err == nil {
		if port == "" {
			return fmt.Errorf("%w: empty port in %s", ErrInvalidHostname, host)
		}
		hostname = h
	}

	if len(hostname) > 253 {
		return fmt.Errorf("%w: hostname too long: %d characters", ErrInvalidHostname, len(hostname))
	}

	if ip := net.ParseIP(strings.Trim(hostname, "[]")); ip != nil {
		return nil
	}

	if !hostnameRegex.MatchString(hostname) {
		return fmt.Errorf("%w: %s", ErrInvalidHostname, hostname)
	}

	return nil
}
