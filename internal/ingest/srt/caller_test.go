package srt

import (
	"context"
	"strings"
	"testing"
)

func TestParseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantAddr   string
		wantStream string
		wantErr    string
	}{
		{
			name:       "address and stream id",
			raw:        "srt://example.com:6000?streamid=live/camera1",
			wantAddr:   "example.com:6000",
			wantStream: "live/camera1",
		},
		{
			name:     "no stream id",
			raw:      "srt://10.0.0.5:6000",
			wantAddr: "10.0.0.5:6000",
		},
		{
			name:       "extra query parameters ignored",
			raw:        "srt://example.com:6000?streamid=show&latency=200",
			wantAddr:   "example.com:6000",
			wantStream: "show",
		},
		{
			name:    "missing port",
			raw:     "srt://example.com",
			wantErr: "missing a port",
		},
		{
			name:    "missing host",
			raw:     "srt://:6000",
			wantErr: "missing a host",
		},
		{
			name:    "wrong scheme",
			raw:     "http://example.com:6000",
			wantErr: "not an srt:// URL",
		},
		{
			name:    "not a url",
			raw:     "srt://bad\x7fhost:1",
			wantErr: "parsing",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := ParseURL(tc.raw)
			if tc.wantErr != "" {
				if err == nil {
					t.Fatalf("ParseURL(%q) = %+v, want error containing %q", tc.raw, cfg, tc.wantErr)
				}
				if !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("ParseURL(%q) error = %v, want containing %q", tc.raw, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURL(%q) failed: %v", tc.raw, err)
			}
			if cfg.Address != tc.wantAddr {
				t.Errorf("Address = %q, want %q", cfg.Address, tc.wantAddr)
			}
			if cfg.StreamID != tc.wantStream {
				t.Errorf("StreamID = %q, want %q", cfg.StreamID, tc.wantStream)
			}
		})
	}
}

func TestDialRequiresAddress(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), PullConfig{}, nil)
	if err == nil {
		t.Fatal("Dial with empty address did not fail")
	}
}
