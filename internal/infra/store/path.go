package store

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// DefaultPath is the platform user-data location for the store root:
// ~/.local/share/jux on Linux (XDG_DATA_HOME aware), ~/Library/Application
// Support/jux on macOS, %LOCALAPPDATA%\jux on Windows.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, "jux")
}
