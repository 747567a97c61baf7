//go:build windows

package log

import (
	"os"
	"path/filepath"
)

// getDefaultDir is %LocalAppData%\hush\logs.
func getDefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "hush", "logs"), nil
}
