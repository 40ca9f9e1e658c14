// Package pathconv converts filesystem paths between the native Windows,
// WSL mount and Git-Bash representations.
package pathconv

import (
	"fmt"
	"strings"
)

// Representation identifies how a path encodes its drive.
type Representation string

const (
	// Native is the drive-letter form, e.g. C:\Users\dev
	Native Representation = "native"
	// WSL is the WSL mount form, e.g. /mnt/c/Users/dev
	WSL Representation = "wsl"
	// GitBash is the Git-Bash form, e.g. /c/Users/dev
	GitBash Representation = "git-bash"
)

var aliases = map[string]Representation{
	"native":           Native,
	"windows":          Native,
	"wsl":              WSL,
	"git-bash":         GitBash,
	"git_bash":         GitBash,
	"windows_git_bash": GitBash,
	"windows-git-bash": GitBash,
}

// ParseRepresentation resolves a configured representation name, accepting the
// historical aliases (windows, windows_git_bash).
func ParseRepresentation(name string) (Representation, error) {
	r, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown path type %q (expected native, windows, wsl or git-bash)", name)
	}
	return r, nil
}

// Names returns the accepted representation names.
func Names() []string {
	return []string{"native", "windows", "wsl", "git-bash", "windows_git_bash"}
}

func (r Representation) String() string {
	return string(r)
}

// Translate converts path from one representation to another. Paths without a
// drive or mount prefix recognised for from are returned unchanged.
//
// Native drive letters always come out upper-case, so c:\x read as native
// and translated back yields C:\x. A bare mount such as /mnt/c names the
// drive root C:\, never the drive-relative C:.
func Translate(path string, from, to Representation) string {
	if path == "" || from == to {
		return path
	}

	drive, rest, ok := split(path, from)
	if !ok {
		return path
	}

	return join(drive, rest, to)
}

// split extracts the lower-case drive letter and the remainder, normalised to
// forward slashes, for a path in the given representation.
func split(path string, from Representation) (byte, string, bool) {
	switch from {
	case Native:
		if len(path) < 2 || path[1] != ':' || !isLetter(path[0]) {
			return 0, "", false
		}
		rest := strings.ReplaceAll(path[2:], `\`, "/")
		if rest != "" && rest[0] != '/' {
			rest = "/" + rest
		}
		return toLower(path[0]), rest, true
	case WSL:
		const prefix = "/mnt/"
		if !strings.HasPrefix(path, prefix) {
			return 0, "", false
		}
		return mount(path[len(prefix):])
	case GitBash:
		if !strings.HasPrefix(path, "/") {
			return 0, "", false
		}
		return mount(path[1:])
	}
	return 0, "", false
}

// mount parses "x" or "x/..." where x is a single lower-case drive letter.
func mount(s string) (byte, string, bool) {
	if len(s) == 0 || s[0] < 'a' || s[0] > 'z' {
		return 0, "", false
	}
	if len(s) > 1 && s[1] != '/' {
		return 0, "", false
	}
	return s[0], s[1:], true
}

func join(drive byte, rest string, to Representation) string {
	switch to {
	case Native:
		if rest == "" {
			rest = "/"
		}
		return string(toUpper(drive)) + ":" + strings.ReplaceAll(rest, "/", `\`)
	case WSL:
		return "/mnt/" + string(drive) + rest
	default:
		return "/" + string(drive) + rest
	}
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
