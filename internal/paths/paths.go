package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "kiln"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Default path to the build store (blobs and cached step results).
//
//	Linux:   ~/.cache/kiln/store
//	macOS:   ~/Library/Caches/kiln/store
func Store() string {
	return filepath.Join(xdg.CacheHome, toolName, "store")
}
