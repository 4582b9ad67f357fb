package util

import (
	"testing"
)

func TestParseHostPort(t *testing.T) {
	tests := []struct {
		spec     string
		defPort  int
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"news.example.com", 563, "news.example.com", 563, false},
		{"news.example.com:119", 563, "news.example.com", 119, false},
		{"127.0.0.1:1119", 119, "127.0.0.1", 1119, false},
		{"[::1]:563", 119, "::1", 563, false},
		{"::1", 119, "::1", 119, false},
		{"[::1]", 119, "::1", 119, false},
		{"news.example.com:0", 119, "", 0, true},
		{"news.example.com:http", 119, "", 0, true},
		{":119", 119, "", 0, true},
	}

	for _, tt := range tests {
		host, port, err := ParseHostPort(tt.spec, tt.defPort)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHostPort(%q) err=%v wantErr=%v", tt.spec, err, tt.wantErr)
			continue
		}
		if host != tt.wantHost || port != tt.wantPort {
			t.Errorf("ParseHostPort(%q) = %q,%d want %q,%d",
				tt.spec, host, port, tt.wantHost, tt.wantPort)
		}
	}
}

func TestFormatAddr(t *testing.T) {
	if got := FormatAddr("1.2.3.4", 563); got != "1.2.3.4:563" {
		t.Errorf("got %q, want %q", got, "1.2.3.4:563")
	}
	if got := FormatAddr("::1", 119); got != "[::1]:119" {
		t.Errorf("got %q, want %q", got, "[::1]:119")
	}
}
