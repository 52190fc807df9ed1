package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/captionsync/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string // substring; empty means valid
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "log_level",
		},
		{
			name:    "negative send buffer",
			yaml:    "server:\n  send_buffer: -1\n",
			wantErr: "send_buffer",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: c.pem\n",
			wantErr: "tls",
		},
		{
			name:    "postgres history without dsn",
			yaml:    "history:\n  backend: postgres\n",
			wantErr: "postgres_dsn",
		},
		{
			name: "memory history",
			yaml: "history:\n  backend: memory\n",
		},
		{
			name:    "feed scheme",
			yaml:    "feed:\n  base_url: ftp://captions.example.com\n",
			wantErr: "scheme",
		},
		{
			name: "feed https is mapped",
			yaml: "feed:\n  base_url: https://captions.example.com\n",
		},
		{
			name:    "path template without id",
			yaml:    "feed:\n  base_url: wss://x\n  path_template: /captions\n",
			wantErr: "{id}",
		},
		{
			name:    "initial delay above max",
			yaml:    "feed:\n  initial_delay: 1m\n  max_delay: 30s\n",
			wantErr: "initial_delay",
		},
		{
			name:    "multiplier below one",
			yaml:    "feed:\n  multiplier: 0.5\n",
			wantErr: "multiplier",
		},
		{
			name:    "negative display delay",
			yaml:    "feed:\n  display_delay: -1s\n",
			wantErr: "display_delay",
		},
		{
			name:    "margin not below tolerance",
			yaml:    "drift:\n  tolerance: 3s\n  safety_margin: 3s\n",
			wantErr: "safety_margin",
		},
		{
			name:    "postgrest without url",
			yaml:    "metadata:\n  backend: postgrest\n",
			wantErr: "metadata.url",
		},
		{
			name:    "negative breaker",
			yaml:    "metadata:\n  breaker:\n    max_failures: -2\n",
			wantErr: "breaker",
		},
		{
			name: "custom backends only warn",
			yaml: "history:\n  backend: redis\nmetadata:\n  backend: graphql\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
history:
  backend: postgres
feed:
  display_delay: -1s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "postgres_dsn", "display_delay"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error is missing %q: %v", want, err)
		}
	}
}
