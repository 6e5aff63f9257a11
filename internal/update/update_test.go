package update

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseSemver(t *testing.T) {
	tests := []struct {
		input   string
		want    [3]int
		wantPre bool
		wantOK  bool
	}{
		{"1.2.3", [3]int{1, 2, 3}, false, true},
		{"v1.2.3", [3]int{1, 2, 3}, false, true},
		{"0.0.0-dev", [3]int{0, 0, 0}, true, true},
		{"1.0.0-beta+build123", [3]int{1, 0, 0}, true, true},
		{"10.20.30", [3]int{10, 20, 30}, false, true},
		{"", [3]int{}, false, false},
		{"1.2", [3]int{}, false, false},
		{"1.2.x", [3]int{}, false, false},
		{"1.2.3.4", [3]int{}, false, false},
		{"dev", [3]int{}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, pre, ok := parseSemver(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("parseSemver(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && (got != tt.want || pre != tt.wantPre) {
				t.Errorf("parseSemver(%q) = %v pre=%v, want %v pre=%v", tt.input, got, pre, tt.want, tt.wantPre)
			}
		})
	}
}

func TestSemverLess(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"equal", "1.2.3", "1.2.3", false},
		{"major", "0.9.9", "1.0.0", true},
		{"minor", "1.0.0", "1.1.0", true},
		{"patch greater", "1.0.2", "1.0.1", false},
		{"v prefix", "v0.1.0", "0.2.0", true},
		{"pre-release before release", "0.1.0-dev", "0.1.0", true},
		{"release not before pre-release", "0.1.0", "0.1.0-dev", false},
		{"unparsable current", "dev", "1.0.0", false},
		{"unparsable latest", "1.0.0", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := semverLess(tt.a, tt.b); got != tt.want {
				t.Errorf("semverLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestLatest(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{"valid manifest", http.StatusOK, `{"latest": "2.0.0"}`, "2.0.0", false},
		{"server error", http.StatusInternalServerError, ``, "", true},
		{"invalid json", http.StatusOK, `not json`, "", true},
		{"missing version", http.StatusOK, `{}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := &Checker{URL: srv.URL, Client: srv.Client()}
			got, err := c.Latest(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Latest: %v", err)
			}
			if got != tt.want {
				t.Errorf("Latest = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheck_EmptyURLMakesNoRequest(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	c := &Checker{Client: srv.Client()}
	c.Check(context.Background(), "1.0.0")
	if hits != 0 {
		t.Errorf("hits = %d, want 0", hits)
	}
}

func TestCheck_QueriesManifest(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"latest": "1.2.0"}`))
	}))
	defer srv.Close()

	c := &Checker{URL: srv.URL, Client: srv.Client()}
	c.Check(context.Background(), "1.0.0")
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}
