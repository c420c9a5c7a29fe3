package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/models"
)

// CommandRunner runs name with args in dir and returns its combined output
type CommandRunner func(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// ToolCheck reports which parts of the de-identification tool are missing
type ToolCheck struct {
	JavaMissing   bool
	JarMissing    bool
	ScriptMissing bool
	// LUTMissing is only set when a lookup table is configured
	LUTMissing bool

	Java   string
	Jar    string
	Script string
	LUT    string
}

// ToolMissing reports whether anonymization cannot run at all
func (c ToolCheck) ToolMissing() bool {
	return c.JavaMissing || c.JarMissing || c.ScriptMissing
}

// Problems returns one ExternalToolMissing error per missing part
func (c ToolCheck) Problems() []error {
	var errs []error
	if c.JavaMissing {
		errs = append(errs, lib.ErrExternalToolMissing("Java runtime", c.Java))
	}
	if c.JarMissing {
		errs = append(errs, lib.ErrExternalToolMissing("De-identification tool", c.Jar))
	}
	if c.ScriptMissing {
		errs = append(errs, lib.ErrExternalToolMissing("Anonymization script", c.Script))
	}
	if c.LUTMissing {
		errs = append(errs, lib.ErrExternalToolMissing("Lookup table", c.LUT))
	}
	return errs
}

// CheckAnonymizer validates the presence of the tool and its auxiliary files
func CheckAnonymizer(cfg models.AnonymizationConfig) ToolCheck {
	check := ToolCheck{
		Java:   cfg.Java,
		Jar:    cfg.JarPath(),
		Script: cfg.ScriptPath(),
		LUT:    cfg.LookupTablePath(),
	}

	if _, err := exec.LookPath(cfg.Java); err != nil {
		check.JavaMissing = true
	}
	check.JarMissing = !isFile(check.Jar)
	check.ScriptMissing = !isFile(check.Script)
	if check.LUT != "" {
		check.LUTMissing = !isFile(check.LUT)
	}
	return check
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Anonymizer de-identifies files in place with an external tool
type Anonymizer struct {
	java    string
	dir     string
	jar     string
	script  string
	lut     string
	timeout time.Duration
	run     CommandRunner
	logger  *lib.Logger
}

// NewAnonymizer creates an anonymizer for cfg. Paths are resolved to absolute so the
// tool can run from its own directory.
func NewAnonymizer(cfg models.AnonymizationConfig, runner CommandRunner, logger *lib.Logger) *Anonymizer {
	if runner == nil {
		runner = ExecRunner
	}
	return &Anonymizer{
		java:    cfg.Java,
		dir:     cfg.ToolDir,
		jar:     absOrEmpty(cfg.JarPath()),
		script:  absOrEmpty(cfg.ScriptPath()),
		lut:     absOrEmpty(cfg.LookupTablePath()),
		timeout: cfg.Timeout,
		run:     runner,
		logger:  logger,
	}
}

// WithoutLookupTable returns a copy that does not pass a lookup table
func (a *Anonymizer) WithoutLookupTable() *Anonymizer {
	c := *a
	c.lut = ""
	return &c
}

// UsesLookupTable reports whether a lookup table is passed to the tool
func (a *Anonymizer) UsesLookupTable() bool { return a.lut != "" }

// Args returns the tool arguments for path
func (a *Anonymizer) Args(path string) []string {
	args := []string{"-jar", a.jar, "-da", a.script}
	if a.lut != "" {
		args = append(args, "-lut", a.lut)
	}
	return append(args, "-in", path, "-out", path)
}

// Anonymize rewrites path in place. A run longer than the configured timeout is killed.
func (a *Anonymizer) Anonymize(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	out, err := a.run(ctx, a.dir, a.java, a.Args(abs)...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return lib.WrapError(lib.CategoryExternalTool, fmt.Sprintf("de-identification timed out after %s", a.timeout), ctx.Err(),
			"Raise anonymization.timeout or check that the tool does not wait for input")
	}
	if err != nil {
		return lib.WrapError(lib.CategoryExternalTool, "de-identification failed", fmt.Errorf("%w: %s", err, tail(out, 512)))
	}
	a.logger.Debug("Anonymized file", "path", abs)
	return nil
}

func absOrEmpty(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// tail keeps the last n bytes of tool output
func tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
