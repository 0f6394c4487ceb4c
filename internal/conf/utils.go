// conf/utils.go
package conf

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/logger"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns the directories searched for config.yaml. If one of them
// already holds a config file only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			".",
			filepath.Join(homeDir, "AppData", "Roaming", "deepfake-go"),
		}
	default:
		configPaths = []string{
			".",
			filepath.Join(homeDir, ".config", "deepfake-go"),
			"/etc/deepfake-go",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// FindConfigFile locates an existing config.yaml
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Category(errors.CategoryFileIO).
		Context("operation", "find-config-file").
		Build()
}

// GetFfmpegBinaryName returns the binary name for ffmpeg based on the current OS.
func GetFfmpegBinaryName() string {
	if runtime.GOOS == osWindows {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// ValidateToolPath returns configuredPath when it names a file, otherwise the tool's location
// on PATH. An error means the tool is unavailable.
func ValidateToolPath(configuredPath, toolName string) (string, error) {
	if configuredPath != "" {
		if info, err := os.Stat(configuredPath); err == nil && !info.IsDir() {
			return configuredPath, nil
		}
		GetLogger().Warn("configured tool path not found, checking system PATH",
			logger.String("configured_path", configuredPath),
			logger.String("tool", toolName))
	}

	if found, err := exec.LookPath(toolName); err == nil {
		return found, nil
	}

	if configuredPath != "" {
		return "", fmt.Errorf("tool '%s' not found at configured path '%s' or in system PATH", toolName, configuredPath)
	}
	return "", fmt.Errorf("tool '%s' not found in system PATH and no path configured", toolName)
}

// moveFile moves a file from src to dst, working across devices
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	srcFile, err := os.Open(src) //nolint:gosec // path built by this package
	if err != nil {
		return fmt.Errorf("error opening source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst) //nolint:gosec // path built by this package
	if err != nil {
		return fmt.Errorf("error creating destination file: %w", err)
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return fmt.Errorf("error copying file contents: %w", err)
	}
	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("error closing destination file: %w", err)
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("error removing source file after copy: %w", err)
	}
	return nil
}
