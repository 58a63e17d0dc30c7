package config

import (
	"os"
	"path/filepath"
	"strings"
)

// dataHomeVar names the XDG data directory; when unset it falls back to
// $HOME/.local/share.
const dataHomeVar = "XDG_DATA_HOME"

// ExpandPath resolves a leading ~ and $VAR references in a configured path.
// $HOME and $XDG_DATA_HOME resolve even when the environment leaves them
// unset, so default paths never collapse to the filesystem root.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + path[1:]
		}
	}

	path = os.Expand(path, lookupPathVar)
	return filepath.Clean(path)
}

func lookupPathVar(name string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	switch name {
	case "HOME":
		home, _ := os.UserHomeDir()
		return home
	case dataHomeVar:
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share")
		}
	}
	return ""
}
