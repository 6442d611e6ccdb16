package main

import (
	"testing"
)

const testOnionHost = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion"

// TestNewDialCmd tests the dial command creation.
func TestNewDialCmd(t *testing.T) {
	t.Parallel()

	cmd := NewDialCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "dial <onion-address[:port]>" {
			t.Errorf("expected dial use line, got %q", cmd.Use)
		}
	})

	t.Run("has expected flags", func(t *testing.T) {
		t.Parallel()
		for _, name := range []string{"config", "tor-binary", "data-dir", "bootstrap-timeout", "timeout"} {
			if cmd.Flags().Lookup(name) == nil {
				t.Errorf("expected %s flag", name)
			}
		}
	})

	t.Run("requires exactly one argument", func(t *testing.T) {
		t.Parallel()
		if err := cmd.Args(cmd, nil); err == nil {
			t.Error("expected error for missing argument")
		}
		if err := cmd.Args(cmd, []string{"a", "b"}); err == nil {
			t.Error("expected error for extra arguments")
		}
		if err := cmd.Args(cmd, []string{"a"}); err != nil {
			t.Errorf("unexpected error for one argument: %v", err)
		}
	})
}

// TestParseDialTarget tests target parsing with and without a port.
func TestParseDialTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		target   string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{
			name:     "bare host gets the default port",
			target:   testOnionHost,
			wantHost: testOnionHost,
			wantPort: 9999,
		},
		{
			name:     "explicit port wins",
			target:   testOnionHost + ":9735",
			wantHost: testOnionHost,
			wantPort: 9735,
		},
		{
			name:    "not an onion address",
			target:  "example.com",
			wantErr: true,
		},
		{
			name:    "bad port",
			target:  testOnionHost + ":notaport",
			wantErr: true,
		},
		{
			name:    "empty target",
			target:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			addr, err := parseDialTarget(tt.target, 9999)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.target)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if addr.Host() != tt.wantHost {
				t.Errorf("Host = %q, expected %q", addr.Host(), tt.wantHost)
			}
			if addr.Port() != tt.wantPort {
				t.Errorf("Port = %d, expected %d", addr.Port(), tt.wantPort)
			}
		})
	}
}
