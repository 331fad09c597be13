package main

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DiscoverSchemas finds all files called name below the current directory.
// It tries multiple strategies in order of efficiency:
// 1. git ls-files (fastest, works in git repos)
// 2. find command (medium, works on Unix systems)
// 3. Pure Go walk (slowest, always works)
func DiscoverSchemas(name string) ([]string, error) {
	if files, err := discoverWithGitLsFiles(name); err == nil && len(files) > 0 {
		return files, nil
	}

	if files, err := discoverWithFind(name); err == nil && len(files) > 0 {
		return files, nil
	}

	return discoverWithWalk(".", name)
}

// discoverWithGitLsFiles uses git's index, so ignored files are skipped.
func discoverWithGitLsFiles(name string) ([]string, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, err
	}

	// tracked and untracked, minus ignored
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	return filterSchemaFiles(output, name)
}

func discoverWithFind(name string) ([]string, error) {
	if _, err := exec.LookPath("find"); err != nil {
		return nil, err
	}

	cmd := exec.Command("find", ".", "-name", name, "-type", "f", "-not", "-path", "*/.git/*")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	return filterSchemaFiles(output, name)
}

// skipDirs are never descended into by the walk.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"_examples":    true,
	"testdata":     true,
}

func discoverWithWalk(root, name string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == name {
			files = append(files, absolute(path))
		}
		return nil
	})

	return files, err
}

// filterSchemaFiles keeps the lines of a file listing whose base name is name.
func filterSchemaFiles(output []byte, name string) ([]string, error) {
	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || filepath.Base(line) != name {
			continue
		}
		files = append(files, absolute(line))
	}
	return files, scanner.Err()
}

func absolute(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
