// Package testutil provides shared test environment helpers for the E2E
// suite. It depends only on stdlib so that E2E tests (which cannot import
// internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the E2E suite.
const (
	EnvTestDevice     = "HA_BOSCH_TEST_DEVICE"
	EnvAllowedDevices = "HA_BOSCH_ALLOWED_TEST_DEVICES"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist crashes the process unless the test gateway named by
// HA_BOSCH_TEST_DEVICE is listed in HA_BOSCH_ALLOWED_TEST_DEVICES. The
// suite talks to a real heating system; it must never pick one up by
// accident. Returns the device id.
func ValidateAllowlist() string {
	allowlist := os.Getenv(EnvAllowedDevices)
	if allowlist == "" {
		fatalf("%s not set\nSet it in .env or as an environment variable.\nExample: %s=101506113",
			EnvAllowedDevices, EnvAllowedDevices)
	}

	device := strings.ReplaceAll(os.Getenv(EnvTestDevice), "-", "")
	if device == "" {
		fatalf("%s not set", EnvTestDevice)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.ReplaceAll(strings.TrimSpace(a), "-", "") == device {
			return device
		}
	}

	fatalf("%s=%q is not in %s=%q", EnvTestDevice, device, EnvAllowedDevices, allowlist)

	return ""
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// FindTestCredentialDir locates .testdata/ relative to the module root.
// Crashes if the directory does not exist.
func FindTestCredentialDir(moduleRoot string) string {
	dir := filepath.Join(moduleRoot, ".testdata")

	if _, err := os.Stat(dir); err != nil {
		fatalf(".testdata/ directory not found at %s\n"+
			"Run 'ha-bosch --data-dir .testdata login --device <serial>' to create test credentials.", dir)
	}

	return dir
}

// EntryFileName is the entry file of deviceID inside an entries directory.
func EntryFileName(deviceID string) string {
	return deviceID + ".json"
}

// CopyFile copies a file from src to dst with the given permissions.
// Crashes on failure because tests cannot proceed without the file.
func CopyFile(src, dst string, perm os.FileMode) {
	data, err := os.ReadFile(src)
	if err != nil {
		fatalf("cannot read %s: %v", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		fatalf("creating %s: %v", filepath.Dir(dst), err)
	}

	if err := os.WriteFile(dst, data, perm); err != nil {
		fatalf("writing %s: %v", dst, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
