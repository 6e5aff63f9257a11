package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDataDirMethods(t *testing.T) {
	root := filepath.Join("home", "user", ".oracle")
	d := DataDir{Root: root}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"PID", d.PID(), filepath.Join(root, "oracle.pid")},
		{"Config", d.Config(), filepath.Join(root, "config.toml")},
		{"Logs", d.Logs(), filepath.Join(root, "logs")},
		{"Log", d.Log(), filepath.Join(root, "logs", "oracle.log")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	d := Default()
	if !strings.HasSuffix(d.Root, DataDirRel) {
		t.Errorf("Default().Root = %q, want suffix %q", d.Root, DataDirRel)
	}
}

func TestEnsure(t *testing.T) {
	d := DataDir{Root: filepath.Join(t.TempDir(), "nested", ".oracle")}
	if err := d.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	info, err := os.Stat(d.Logs())
	if err != nil {
		t.Fatalf("Stat logs dir: %v", err)
	}
	if !info.IsDir() {
		t.Error("logs path is not a directory")
	}
	if err := d.Ensure(); err != nil {
		t.Errorf("second Ensure: %v", err)
	}
}
