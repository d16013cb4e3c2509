package config

import (
	"testing"
	"time"
)

func TestLoadClient(t *testing.T) {
	tests := []struct {
		name    string
		set     map[string]interface{}
		wantErr bool
		check   func(t *testing.T, cfg ClientConfig)
	}{
		{
			name: "defaults with token",
			set:  map[string]interface{}{"auth.token": "abc"},
			check: func(t *testing.T, cfg ClientConfig) {
				if cfg.MaxAttempts != 5 {
					t.Errorf("expected 5 attempts, got %d", cfg.MaxAttempts)
				}
				if cfg.ConnectTimeout != 10*time.Second {
					t.Errorf("expected 10s connect timeout, got %v", cfg.ConnectTimeout)
				}
				if cfg.Debounce != 2*time.Second || cfg.RetryDelay != 2*time.Second {
					t.Errorf("unexpected debounce/retry %v/%v", cfg.Debounce, cfg.RetryDelay)
				}
				if cfg.Offline() {
					t.Error("expected online mode by default")
				}
			},
		},
		{
			name:    "missing token online",
			set:     map[string]interface{}{},
			wantErr: true,
		},
		{
			name: "offline without token",
			set:  map[string]interface{}{"sync.mode": "OFFLINE"},
			check: func(t *testing.T, cfg ClientConfig) {
				if !cfg.Offline() {
					t.Error("expected offline mode")
				}
			},
		},
		{
			name:    "unknown mode",
			set:     map[string]interface{}{"auth.token": "abc", "sync.mode": "simulated"},
			wantErr: true,
		},
		{
			name: "trailing slash trimmed",
			set:  map[string]interface{}{"auth.token": "abc", "server.url": "http://example.test/ "},
			check: func(t *testing.T, cfg ClientConfig) {
				if cfg.ServerURL != "http://example.test" {
					t.Errorf("unexpected server url %q", cfg.ServerURL)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewClientViper()
			for k, val := range tt.set {
				v.Set(k, val)
			}

			cfg, err := LoadClient(v)
			if tt.wantErr {
				if err == nil {
					t.Error("LoadClient() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadClient() unexpected error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}
