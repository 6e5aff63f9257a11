// Package paths names the files and directories the service keeps under its
// data directory.
package paths

import (
	"os"
	"path/filepath"
)

// Data directory layout.
const (
	DataDirRel = ".oracle" // relative to $HOME
	BinaryName = "oracle"
	PIDFile    = "oracle.pid"
	ConfigFile = "config.toml"
	LogsDir    = "logs"
	LogFile    = "oracle.log"
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// Default returns the data directory under the user's home, or under the
// working directory when no home can be resolved.
func Default() DataDir {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DataDir{Root: DataDirRel}
	}
	return DataDir{Root: filepath.Join(home, DataDirRel)}
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Logs returns the log directory.
func (d DataDir) Logs() string { return filepath.Join(d.Root, LogsDir) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogsDir, LogFile) }

// Ensure creates the data and log directories.
func (d DataDir) Ensure() error {
	return os.MkdirAll(d.Logs(), 0o755)
}
