package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ExecutableKind identifies the flavor of a Chromium-based browser binary.
type ExecutableKind string

const (
	ExeChrome   ExecutableKind = "chrome"
	ExeBrave    ExecutableKind = "brave"
	ExeEdge     ExecutableKind = "edge"
	ExeChromium ExecutableKind = "chromium"
	ExeCustom   ExecutableKind = "custom"
)

// Executable is a found browser binary.
type Executable struct {
	Kind ExecutableKind `json:"kind"`
	Path string         `json:"path"`
}

type candidate struct {
	kind ExecutableKind
	path string
}

// FindChromeExecutable finds a Chromium-based browser for the cdp driver.
// It returns nil, nil when nothing is installed.
func FindChromeExecutable(customPath string) (*Executable, error) {
	if customPath != "" {
		if !fileExists(customPath) {
			return nil, fmt.Errorf("browser executable not found: %s", customPath)
		}
		return &Executable{Kind: ExeCustom, Path: customPath}, nil
	}

	for _, c := range []candidate{
		{ExeChrome, "google-chrome"},
		{ExeChrome, "google-chrome-stable"},
		{ExeChromium, "chromium"},
		{ExeChromium, "chromium-browser"},
		{ExeEdge, "microsoft-edge"},
		{ExeBrave, "brave-browser"},
	} {
		if path, err := exec.LookPath(c.path); err == nil {
			return &Executable{Kind: c.kind, Path: path}, nil
		}
	}

	var candidates []candidate
	switch runtime.GOOS {
	case "darwin":
		candidates = macCandidates()
	case "linux":
		candidates = linuxCandidates()
	case "windows":
		candidates = windowsCandidates()
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	for _, c := range candidates {
		if fileExists(c.path) {
			return &Executable{Kind: c.kind, Path: c.path}, nil
		}
	}
	return nil, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func macCandidates() []candidate {
	home := os.Getenv("HOME")
	return []candidate{
		{ExeChrome, "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
		{ExeChrome, filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome")},
		{ExeBrave, "/Applications/Brave Browser.app/Contents/MacOS/Brave Browser"},
		{ExeEdge, "/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
		{ExeChromium, "/Applications/Chromium.app/Contents/MacOS/Chromium"},
	}
}

func linuxCandidates() []candidate {
	return []candidate{
		{ExeChrome, "/usr/bin/google-chrome"},
		{ExeChrome, "/usr/bin/google-chrome-stable"},
		{ExeChrome, "/opt/google/chrome/chrome"},
		{ExeBrave, "/usr/bin/brave-browser"},
		{ExeBrave, "/snap/bin/brave"},
		{ExeEdge, "/usr/bin/microsoft-edge"},
		{ExeChromium, "/usr/bin/chromium"},
		{ExeChromium, "/usr/bin/chromium-browser"},
		{ExeChromium, "/snap/bin/chromium"},
	}
}

func windowsCandidates() []candidate {
	programFiles := os.Getenv("ProgramFiles")
	if programFiles == "" {
		programFiles = `C:\Program Files`
	}
	programFilesX86 := os.Getenv("ProgramFiles(x86)")
	if programFilesX86 == "" {
		programFilesX86 = `C:\Program Files (x86)`
	}

	var candidates []candidate
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		candidates = append(candidates,
			candidate{ExeChrome, filepath.Join(localAppData, "Google", "Chrome", "Application", "chrome.exe")},
			candidate{ExeBrave, filepath.Join(localAppData, "BraveSoftware", "Brave-Browser", "Application", "brave.exe")},
		)
	}
	return append(candidates,
		candidate{ExeChrome, filepath.Join(programFiles, "Google", "Chrome", "Application", "chrome.exe")},
		candidate{ExeChrome, filepath.Join(programFilesX86, "Google", "Chrome", "Application", "chrome.exe")},
		candidate{ExeEdge, filepath.Join(programFilesX86, "Microsoft", "Edge", "Application", "msedge.exe")},
		candidate{ExeEdge, filepath.Join(programFiles, "Microsoft", "Edge", "Application", "msedge.exe")},
	)
}
