package utils

import (
	"testing"
	"time"
)

func TestParseCount(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "3\n", want: 3},
		{in: "  12 \r\n", want: 12},
		{in: "0", want: 0},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseCount(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseCount(%q): expected error, got %d", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseCount(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "0.125", want: 125 * time.Millisecond},
		{in: " 2 ", want: 2 * time.Second},
		{in: "0", want: 0},
		{in: "-0.5", wantErr: true},
		{in: "fast", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSeconds(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseSeconds(%q): expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSeconds(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseSeconds(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
