package status

import "testing"

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		allowed []string
		reqHost string
		want    bool
	}{
		{"empty origin is allowed", "", nil, "localhost:8080", true},
		{"localhost origin allowed by default", "http://localhost:8080", nil, "localhost:8080", true},
		{"non-local origin denied by default", "https://evil.example", nil, "localhost:8080", false},
		{"allowlist permits exact origin", "https://dash.example.com", []string{"https://dash.example.com"}, "0.0.0.0:8080", true},
		{"allowlist denies everything else", "https://evil.example", []string{"https://dash.example.com"}, "0.0.0.0:8080", false},
		{"same host allowed when no allowlist", "https://mm.internal:8080", nil, "mm.internal:8080", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.allowed, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
