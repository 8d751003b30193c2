package types

import (
	"errors"
	"strings"
	"testing"
)

func TestDeviceName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid name", "inverter-1", false},
		{"empty name", "", true},
		{"too long name", strings.Repeat("a", 254), true},
		{"ip address", "192.168.1.50", false},
		{"host with port", "192.168.1.50:8080", false},
		{"valid with underscores", "garage_inverter", false},
		{"spaces", "Roof Inverter", false},
		{"non-ascii", "Dachanlage-Süd", false},
		{"punctuation", "inverter@roof (east)", false},
		{"invalid utf-8", "roof\xe9", true},
		{"control character", "roof\tinverter", true},
		{"newline", "roof\ninverter", true},
		{"untrimmed", " roof ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deviceName, err := NewDeviceName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewDeviceName() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidDeviceName) {
				t.Errorf("expected ErrInvalidDeviceName, got %v", err)
			}
			if !tt.wantErr && !deviceName.IsValid() {
				t.Errorf("DeviceName.IsValid() = false, want true")
			}
		})
	}
}

func TestParseScheme(t *testing.T) {
	tests := []struct {
		input   string
		want    Scheme
		wantErr bool
	}{
		{"", SchemeHTTP, false},
		{"http", SchemeHTTP, false},
		{"HTTPS", SchemeHTTPS, false},
		{" https ", SchemeHTTPS, false},
		{"ftp", "", true},
	}

	for _, tt := range tests {
		got, err := ParseScheme(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseScheme(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseScheme(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestValidateHost(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		wantErr bool
	}{
		{"private ip", "192.168.1.50", false},
		{"loopback", "127.0.0.1", false},
		{"ip with port", "10.0.0.7:8080", false},
		{"hostname", "solis-logger.lan", false},
		{"ipv6 with port", "[fd00::1]:80", false},
		{"empty", "", true},
		{"path injected", "host/evil", true},
		{"newline", "host\nname", true},
		{"bad hostname", "-bad-.lan", true},
		{"too long", strings.Repeat("a", 254), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHost(tt.host)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateHost(%q) error = %v, wantErr %v", tt.host, err, tt.wantErr)
			}
		})
	}
}
