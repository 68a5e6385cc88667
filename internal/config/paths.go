package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// defaultStorePath returns the well-known location of the message store on
// the current platform, falling back to a relative path when the home
// directory cannot be resolved.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat.db"
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Messages", "chat.db")
	}
	return filepath.Join(home, ".chatmix", "chat.db")
}
