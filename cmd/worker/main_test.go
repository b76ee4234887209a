package main

import "testing"

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://app:s3cret@db:5432/notes?sslmode=disable", "postgres://app:****@db:5432/notes?sslmode=disable"},
		{"postgres://app@db:5432/notes", "postgres://app@db:5432/notes"},
		{"file:notes.db?_pragma=busy_timeout(5000)", "file:notes.db?_pragma=busy_timeout(5000)"},
	}
	for _, tt := range tests {
		if got := redactDSN(tt.in); got != tt.want {
			t.Errorf("redactDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
