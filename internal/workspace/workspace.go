// Package workspace resolves the project directory a call operates on and
// derives the stable key used to route it to its database file.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/HendryAvila/taskmem/internal/apperr"
)

// EnvVar supplies the workspace when no explicit path is given.
const EnvVar = "TASKMEM_WORKSPACE"

// HashLen is the number of hex characters kept from the path digest.
const HashLen = 8

// Source names where a resolved path came from.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceEnv      Source = "env"
	SourceCwd      Source = "cwd"
)

// Resolver turns an optional explicit path into one canonical absolute
// directory. The function fields default to the os package and exist so
// tests can control the environment.
type Resolver struct {
	LookupEnv   func(string) (string, bool)
	Getwd       func() (string, error)
	UserHomeDir func() (string, error)
	Logger      *slog.Logger
}

// NewResolver returns a Resolver backed by the real process environment.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		LookupEnv:   os.LookupEnv,
		Getwd:       os.Getwd,
		UserHomeDir: os.UserHomeDir,
		Logger:      logger,
	}
}

// Resolution is a resolved workspace.
type Resolution struct {
	Path   string `json:"workspace_path"`
	Hash   string `json:"project_id"`
	Source Source `json:"source"`
}

// Resolve tries the explicit path, then EnvVar, then the working directory.
// The first candidate that names an existing directory wins; unusable
// candidates are logged and skipped.
func (r *Resolver) Resolve(explicit string) (Resolution, error) {
	type candidate struct {
		source Source
		raw    string
	}
	var cands []candidate

	if s := strings.TrimSpace(explicit); s != "" {
		cands = append(cands, candidate{SourceExplicit, s})
	}
	if r.LookupEnv != nil {
		if v, ok := r.LookupEnv(EnvVar); ok && strings.TrimSpace(v) != "" {
			cands = append(cands, candidate{SourceEnv, strings.TrimSpace(v)})
		}
	}
	if r.Getwd != nil {
		if wd, err := r.Getwd(); err == nil && wd != "" {
			cands = append(cands, candidate{SourceCwd, wd})
		} else if err != nil {
			cands = append(cands, candidate{SourceCwd, ""})
		}
	}

	var tried []map[string]string
	for _, c := range cands {
		path, err := r.canonical(c.raw)
		if err != nil {
			tried = append(tried, map[string]string{
				"source": string(c.source),
				"path":   c.raw,
				"reason": err.Error(),
			})
			r.logger().Warn("skipping unusable workspace candidate",
				"source", c.source, "path", c.raw, "reason", err)
			continue
		}
		return Resolution{Path: path, Hash: Hash(path), Source: c.source}, nil
	}
	return Resolution{}, apperr.Workspace(tried)
}

func (r *Resolver) canonical(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("working directory unavailable")
	}
	path := raw
	if path == "~" || strings.HasPrefix(path, "~/") {
		if r.UserHomeDir == nil {
			return "", errors.New("cannot expand ~")
		}
		home, err := r.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding ~: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	abs = filepath.Clean(abs)
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New("directory does not exist")
		}
		return "", err
	}
	if !info.IsDir() {
		return "", errors.New("not a directory")
	}
	return abs, nil
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Hash returns the first HashLen hex characters of the SHA-256 digest of
// path. The path should already be canonical.
func Hash(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:HashLen]
}

// DBFileName is the per-workspace database file name.
func DBFileName(path string) string {
	return Hash(path) + ".db"
}
