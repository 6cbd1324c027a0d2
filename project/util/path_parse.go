package util

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

func ExpandUser(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	slashIndex := strings.Index(path, "/")
	if slashIndex == -1 {
		slashIndex = len(path)
	}

	username := path[1:slashIndex]
	var homedir string

	switch {
	case username == "":
		if home, err := os.UserHomeDir(); err == nil {
			homedir = home
		}
	default:
		if u, err := user.Lookup(username); err == nil {
			homedir = u.HomeDir
		}
	}

	if homedir == "" {
		return path
	}

	return filepath.Join(homedir, path[slashIndex:])
}

func Normpath(s string) string {
	return filepath.Clean(s)
}

// ResolvePath expands a leading ~ and cleans the result.
func ResolvePath(s string) string {
	if s == "" {
		return ""
	}
	return Normpath(ExpandUser(s))
}

// ProgramFilePath places a program name inside dir. Separators in the name
// are replaced so a tagged name cannot escape dir.
func ProgramFilePath(dir, name string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, name)
	if safe == "" || safe == "." || safe == ".." {
		safe = "program.nc"
	}
	return filepath.Join(ResolvePath(dir), safe)
}
