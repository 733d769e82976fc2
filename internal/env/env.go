package env

import (
	"os"
	"path/filepath"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to the controlled server process and
// expands variable references in path-valued settings (artifact search roots,
// log directories, the configured JAR path).
type Env struct {
	Var Var // global variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env { return &Env{Var: make(Var)} }

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	environ := os.Environ()
	base := make(Var, len(environ))
	for _, kv := range environ {
		if k, v, ok := splitKV(kv); ok {
			base[k] = v
		}
	}
	e.env = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Merge composes the final environment list: OS environment as base, then
// global overrides, then extra (slice of "K=V") overrides. ${VAR} references
// are expanded against the composed map (single pass, no recursion).
func (e *Env) Merge(extra []string) []string {
	m := e.composed(extra)
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

// ExpandPath expands a leading "~" to the user's home directory and ${VAR}
// references against the composed environment. Used for configured search
// roots and artifact paths so entries like "~/serval" or "${SERVAL_HOME}"
// work as operators expect.
func (e *Env) ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = expand(p, e.composed(nil))
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}

// composed builds the effective variable map: OS base, then globals, then
// extra "K=V" entries. Malformed entries (no '=' or empty key) are dropped.
func (e *Env) composed(extra []string) Var {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(extra))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for _, kv := range extra {
		if k, v, ok := splitKV(kv); ok {
			m[k] = v
		}
	}
	return m
}

func splitKV(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}

// expand replaces ${VAR} references using the composed map.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range m {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
