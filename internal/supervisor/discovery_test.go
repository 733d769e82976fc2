package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func jarRoot(t *testing.T, name string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("PK\x03\x04"), 0o644); err != nil {
		t.Fatalf("write jar: %v", err)
	}
	return dir, p
}

func TestDiscoverFindsJarInSearchRoot(t *testing.T) {
	f := newFakeServal(t)
	root, jar := jarRoot(t, "serval-2.1.6.jar")
	cfg := testConfig(f, "sh", "")
	cfg.SearchRoots = []string{root}
	sup := New(cfg)

	rep := sup.DiscoverAndValidate(false)
	if !rep.JarFound || rep.JarPath != jar || rep.Version != "2.1.6" {
		t.Fatalf("jar not discovered: %+v", rep)
	}
	if len(rep.Installations) != 1 {
		t.Fatalf("installations: got %d want 1", len(rep.Installations))
	}
	if !rep.JavaAvailable || rep.JavaPath == "" {
		t.Fatalf("sh should resolve from PATH: %+v", rep)
	}
	if len(rep.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", rep.Errors)
	}
}

func TestDiscoverReportsMissingEnvironment(t *testing.T) {
	f := newFakeServal(t)
	cfg := testConfig(f, "definitely-not-a-java-binary", "")
	cfg.SearchRoots = []string{t.TempDir()}
	sup := New(cfg)

	rep := sup.DiscoverAndValidate(false)
	if rep.JarFound || rep.JavaAvailable {
		t.Fatalf("empty environment reported as usable: %+v", rep)
	}
	if len(rep.Errors) != 2 {
		t.Fatalf("errors: got %v want jar and java entries", rep.Errors)
	}
}

func TestDiscoverForceRescans(t *testing.T) {
	f := newFakeServal(t)
	root, jar := jarRoot(t, "serval-2.1.6.jar")
	cfg := testConfig(f, "sh", "")
	cfg.SearchRoots = []string{root}
	sup := New(cfg)

	if rep := sup.DiscoverAndValidate(false); !rep.JarFound {
		t.Fatalf("initial discovery failed: %+v", rep)
	}
	if err := os.Remove(jar); err != nil {
		t.Fatalf("remove jar: %v", err)
	}

	// Without force the cached artifact is trusted.
	if rep := sup.DiscoverAndValidate(false); !rep.JarFound {
		t.Fatalf("cache ignored: %+v", rep)
	}
	rep := sup.DiscoverAndValidate(true)
	if rep.JarFound || len(rep.Errors) == 0 {
		t.Fatalf("force rescan missed the removed jar: %+v", rep)
	}
}

func TestStartWithFullValidationHappyPath(t *testing.T) {
	requireUnix(t)
	f := newFakeServal(t)
	root, _ := jarRoot(t, "serval-3.3.0.jar")
	cfg := testConfig(f, fakeJava(t, `echo "listening on"; sleep 60`), "")
	cfg.SearchRoots = []string{root}
	cfg.RequireConnection = bptr(false)
	sup := New(cfg)
	f.onShutdown = func() { killGroup(sup) }
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })

	rep, err := sup.StartWithFullValidation(t.Context())
	if err != nil {
		t.Fatalf("start with validation: %v (report %+v)", err, rep)
	}
	if !rep.JarFound || !rep.JavaAvailable {
		t.Fatalf("report incomplete: %+v", rep)
	}
	if sup.State() != StateReady {
		t.Fatalf("state: got %v want ready", sup.State())
	}
}

func TestStartWithFullValidationRefusesBrokenEnvironment(t *testing.T) {
	f := newFakeServal(t)
	cfg := testConfig(f, "definitely-not-a-java-binary", "")
	cfg.SearchRoots = []string{t.TempDir()}
	sup := New(cfg)

	rep, err := sup.StartWithFullValidation(t.Context())
	if err == nil {
		t.Fatalf("expected validation error, got report %+v", rep)
	}
	if sup.State() != StateIdle {
		t.Fatalf("nothing should have launched: state %v", sup.State())
	}
}
