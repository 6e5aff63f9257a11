package atomicfile

import (
	"os"
	"path/filepath"
	"testing"
)

// tempLeftovers returns the names of temp files left in dir.
func tempLeftovers(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if ok, _ := filepath.Match("*.tmp.*", e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestWrite(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		data     string
		perm     os.FileMode
	}{
		{name: "new file", data: "port = 3030\n", perm: 0o644},
		{name: "replaces existing", existing: "port = 1\n", data: "port = 2\n", perm: 0o644},
		{name: "private file", data: "token = \"x\"\n", perm: 0o600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.toml")
			if tt.existing != "" {
				if err := os.WriteFile(path, []byte(tt.existing), 0o644); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}

			if err := Write(path, []byte(tt.data), tt.perm); err != nil {
				t.Fatalf("Write: %v", err)
			}

			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if string(got) != tt.data {
				t.Errorf("content = %q, want %q", got, tt.data)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("Stat: %v", err)
			}
			if info.Mode().Perm()&0o600 != 0o600 {
				t.Errorf("permissions = %o, want owner read-write", info.Mode().Perm())
			}
			if left := tempLeftovers(t, dir); len(left) > 0 {
				t.Errorf("temp files left behind: %v", left)
			}
		})
	}
}

func TestWrite_MissingDirectory(t *testing.T) {
	root := t.TempDir()
	if err := Write(filepath.Join(root, "missing", "config.toml"), []byte("x"), 0o644); err == nil {
		t.Fatal("expected error writing into a missing directory")
	}
	if left := tempLeftovers(t, root); len(left) > 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}
