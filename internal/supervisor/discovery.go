package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/servisr/internal/artifact"
	"github.com/loykin/servisr/internal/journal"
)

// Report summarizes what discovery found on this host.
type Report struct {
	JarFound      bool                `json:"jar_found"`
	JarPath       string              `json:"jar_path,omitempty"`
	Version       string              `json:"version,omitempty"`
	Installations []artifact.Artifact `json:"installations,omitempty"`
	JavaAvailable bool                `json:"java_available"`
	JavaPath      string              `json:"java_path,omitempty"`
	Errors        []string            `json:"errors,omitempty"`
}

// DiscoverAndValidate locates the server JAR and the Java runtime without
// launching anything. force re-runs the filesystem scan even when a previous
// run already found an artifact.
func (s *Supervisor) DiscoverAndValidate(force bool) Report {
	var rep Report

	art, err := s.ensureArtifact(force)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
	} else {
		rep.JarFound = true
		rep.JarPath = art.Path
		rep.Version = art.Version
	}
	rep.Installations = s.locator.Installations()

	if path, err := exec.LookPath(s.cfg.JavaBin); err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("java runtime %q not found in PATH", s.cfg.JavaBin))
	} else {
		rep.JavaAvailable = true
		rep.JavaPath = path
	}

	detail := rep.JarPath
	if detail == "" {
		detail = "no artifact found"
	}
	s.record(journal.EventDiscovery, detail)
	return rep
}

// Artifact returns the located server JAR, running the locator when no
// earlier start or discovery cached one.
func (s *Supervisor) Artifact() (artifact.Artifact, error) {
	return s.ensureArtifact(false)
}

// ensureArtifact returns the cached artifact or runs the locator.
func (s *Supervisor) ensureArtifact(force bool) (artifact.Artifact, error) {
	s.mu.Lock()
	if s.artValid && !force {
		art := s.art
		s.mu.Unlock()
		return art, nil
	}
	locator := s.locator
	s.mu.Unlock()

	art, err := locator.Locate(s.cfg.JarPath)
	if err != nil {
		return artifact.Artifact{}, err
	}
	s.mu.Lock()
	s.art = art
	s.artValid = true
	s.mu.Unlock()
	return art, nil
}

// StartWithFullValidation runs discovery, launches the server and verifies it
// with a forced health check. The report describes the environment whether or
// not the start succeeded.
func (s *Supervisor) StartWithFullValidation(ctx context.Context) (Report, error) {
	rep := s.DiscoverAndValidate(false)
	if len(rep.Errors) > 0 || !rep.JarFound || !rep.JavaAvailable {
		msgs := rep.Errors
		if len(msgs) == 0 {
			msgs = []string{"environment validation failed"}
		}
		return rep, fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
	}
	if err := s.Start(ctx); err != nil {
		return rep, err
	}
	hs := s.HealthCheck(ctx, true)
	if !hs.Healthy {
		_ = s.Stop(ctx)
		return rep, fmt.Errorf("post-start health check failed: %s", hs.Error)
	}
	return rep, nil
}
