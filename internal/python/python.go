// Package python manages the uv project that hosts the local embedding model.
package python

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

//go:embed scripts/*
var scriptFiles embed.FS

const (
	uvSyncTimeout = 10 * time.Minute
	stampFile     = ".synced"
)

// FindUV locates the uv binary in PATH.
func FindUV() (string, error) {
	uvPath, err := exec.LookPath("uv")
	if err != nil {
		return "", fmt.Errorf(
			"uv not found in PATH: install it from https://docs.astral.sh/uv/getting-started/installation/",
		)
	}

	return uvPath, nil
}

// EnsureEnvironment extracts the embedded project to cacheDir/python and runs
// uv sync unless the same scripts were already synced there. Returns the project directory.
func EnsureEnvironment(ctx context.Context, uvPath, cacheDir string) (string, error) {
	projectDir := filepath.Join(cacheDir, "python")

	digest, err := scriptsDigest()
	if err != nil {
		return "", fmt.Errorf("failed to hash embedded scripts: %w", err)
	}

	if isSynced(projectDir, digest) {
		return projectDir, nil
	}

	if err := extractScripts(projectDir); err != nil {
		return "", fmt.Errorf("failed to extract Python scripts: %w", err)
	}

	if err := uvSync(ctx, uvPath, projectDir); err != nil {
		return "", fmt.Errorf("failed to sync Python environment: %w", err)
	}

	if err := os.WriteFile(filepath.Join(projectDir, stampFile), []byte(digest), 0o644); err != nil {
		return "", fmt.Errorf("failed to record sync stamp: %w", err)
	}

	return projectDir, nil
}

// RunScript builds an exec.Cmd that runs a Python script via uv.
func RunScript(ctx context.Context, uvPath, projectDir, scriptName string, args ...string) *exec.Cmd {
	scriptPath := filepath.Join(projectDir, scriptName)

	cmdArgs := []string{
		"run",
		"--project", projectDir,
		"--quiet",
		"python", scriptPath,
	}
	cmdArgs = append(cmdArgs, args...)

	return exec.CommandContext(ctx, uvPath, cmdArgs...)
}

func isSynced(projectDir, digest string) bool {
	stamp, err := os.ReadFile(filepath.Join(projectDir, stampFile))
	if err != nil {
		return false
	}

	return strings.TrimSpace(string(stamp)) == digest
}

// scriptsDigest hashes every embedded file name and body in walk order
func scriptsDigest() (string, error) {
	h := sha256.New()

	err := fs.WalkDir(scriptFiles, "scripts", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		content, err := scriptFiles.ReadFile(path)
		if err != nil {
			return err
		}

		_, _ = h.Write([]byte(path))
		_, _ = h.Write(content)

		return nil
	})
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func extractScripts(projectDir string) error {
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	return fs.WalkDir(scriptFiles, "scripts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel("scripts", path)
		if err != nil {
			return err
		}

		targetPath := filepath.Join(projectDir, relPath)

		if d.IsDir() {
			return os.MkdirAll(targetPath, 0o755)
		}

		content, err := scriptFiles.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded file %s: %w", path, err)
		}

		return os.WriteFile(targetPath, content, 0o644)
	})
}

func uvSync(ctx context.Context, uvPath, projectDir string) error {
	ctx, cancel := context.WithTimeout(ctx, uvSyncTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, uvPath, "sync", "--project", projectDir, "--quiet")
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("uv sync timed out (the first run downloads torch and the model)")
		}

		return fmt.Errorf("uv sync failed: %w", err)
	}

	return nil
}
