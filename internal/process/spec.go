package process

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/servisr/internal/logger"
)

// DefaultTailSize bounds the in-memory copy of the server's recent output
// kept for connection-evidence scanning.
const DefaultTailSize = 64 * 1024

// Spec describes how to launch one SERVAL instance.
type Spec struct {
	Name      string            `json:"name"`       // instance name for logs and capture files
	JavaBin   string            `json:"java_bin"`   // java executable (default "java")
	JarPath   string            `json:"jar_path"`   // resolved artifact path
	Port      int               `json:"port"`       // HTTP listen port, passed as -DhttpPort
	ExtraArgs []string          `json:"extra_args"` // appended after the JAR
	WorkDir   string            `json:"work_dir"`
	Env       []string          `json:"env"` // extra KEY=VALUE entries for the child
	Log       logger.FileConfig `json:"log"`
	TailSize  int               `json:"tail_size"` // bytes of output retained in memory
}

func (s *Spec) Validate() error {
	if s.JarPath == "" {
		return fmt.Errorf("spec requires jar_path")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("spec port %d out of range", s.Port)
	}
	return nil
}

// BuildCommand constructs the java invocation. SERVAL 2.1.x takes its listen
// port as a -D system property, not a program flag, and rejects --host/--port
// style arguments, so those are dropped from ExtraArgs.
func (s *Spec) BuildCommand() *exec.Cmd {
	bin := s.JavaBin
	if bin == "" {
		bin = "java"
	}
	args := []string{fmt.Sprintf("-DhttpPort=%d", s.Port), "-jar", s.JarPath}
	for _, a := range s.ExtraArgs {
		if strings.Contains(a, "--host") || strings.Contains(a, "--port") {
			continue
		}
		args = append(args, a)
	}
	// #nosec G204 -- bin and jar come from validated configuration
	return exec.Command(bin, args...)
}
