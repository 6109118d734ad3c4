package config

import (
	"os"
	"os/user"
	"path/filepath"
)

// Environment variables consulted when resolving the invoking user's home.
const (
	EnvOriginalHome = "NVPRIME_ORIGINAL_HOME"
	envPkexecUID    = "PKEXEC_UID"
	envSudoUser     = "SUDO_USER"
)

// HomeResolver finds the home directory of the user who started nvprime,
// which differs from $HOME once the process runs under pkexec or sudo.
type HomeResolver struct {
	Getenv       func(string) string
	LookupUserID func(uid string) (*user.User, error)
	LookupUser   func(name string) (*user.User, error)
}

// NewHomeResolver returns a resolver backed by the process environment and
// the system user database.
func NewHomeResolver() HomeResolver {
	return HomeResolver{
		Getenv:       os.Getenv,
		LookupUserID: user.LookupId,
		LookupUser:   user.Lookup,
	}
}

// Resolve returns NVPRIME_ORIGINAL_HOME, then the home of PKEXEC_UID, then the
// home of SUDO_USER, then HOME.
func (r HomeResolver) Resolve() string {
	if home := r.Getenv(EnvOriginalHome); home != "" {
		return home
	}
	if uid := r.Getenv(envPkexecUID); uid != "" {
		if u, err := r.LookupUserID(uid); err == nil && u.HomeDir != "" {
			return u.HomeDir
		}
	}
	if name := r.Getenv(envSudoUser); name != "" {
		if u, err := r.LookupUser(name); err == nil && u.HomeDir != "" {
			return u.HomeDir
		}
	}
	return r.Getenv("HOME")
}

// ResolveUserHome resolves the invoking user's home from the process environment.
func ResolveUserHome() string {
	return NewHomeResolver().Resolve()
}

// UserPath is the per-user configuration file under home.
func UserPath(home string) string {
	return filepath.Join(home, ".config", "nvprime", "nvprime.yaml")
}

// ResolvePath picks the file a client command reads: the explicit path when
// given, else the user's file when it exists, else DefaultPath.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if home := ResolveUserHome(); home != "" {
		if p := UserPath(home); fileExists(p) {
			return p
		}
	}
	return DefaultPath
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
