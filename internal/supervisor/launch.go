package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/turtacn/Fopwatch/pkg/consts"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
	"github.com/turtacn/Fopwatch/pkg/protocol"
)

// LaunchSpec is the computed execution environment of the engine process.
type LaunchSpec struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

func (l LaunchSpec) String() string {
	return strings.TrimSpace(l.Path + " " + strings.Join(l.Args, " "))
}

var defaultJVMArgs = []string{
	"-Djavax.xml.accessExternalStylesheet=all",
	"-Djavax.xml.accessExternalSchema=all",
}

// ResolveLaunch computes how to start the engine. An explicit command wins;
// otherwise a JVM is located and pointed at the FOP jars and the server class.
func ResolveLaunch(cfg protocol.EngineConfig) (LaunchSpec, error) {
	if len(cfg.Command) > 0 {
		return LaunchSpec{
			Path: cfg.Command[0],
			Args: append([]string(nil), cfg.Command[1:]...),
			Env:  cfg.Env,
			Dir:  cfg.WorkDir,
		}, nil
	}

	if cfg.FopDir == "" {
		return LaunchSpec{}, fperrors.New(fperrors.ErrCodeEngineNotFound, "ResolveLaunch", "engine.fop_dir is not configured", nil)
	}
	if err := ValidateFopDir(cfg.FopDir); err != nil {
		return LaunchSpec{}, err
	}

	java, err := resolveJava(cfg)
	if err != nil {
		return LaunchSpec{}, err
	}

	serverDir := cfg.ServerDir
	if serverDir == "" {
		serverDir = filepath.Join(cfg.FopDir, "server")
	}
	if info, err := os.Stat(serverDir); err != nil || !info.IsDir() {
		return LaunchSpec{}, fperrors.New(fperrors.ErrCodeEngineNotFound, "ResolveLaunch", "server directory not found: "+serverDir, err)
	}

	buildJars, _ := jarsIn(filepath.Join(cfg.FopDir, "build"))
	libJars, _ := jarsIn(filepath.Join(cfg.FopDir, "lib"))
	classpath := append(append(buildJars, libJars...), serverDir)

	serverClass := cfg.ServerClass
	if serverClass == "" {
		serverClass = consts.DefaultServerClass
	}

	args := append([]string(nil), defaultJVMArgs...)
	args = append(args, cfg.JVMArgs...)
	args = append(args, "-cp", strings.Join(classpath, string(os.PathListSeparator)), serverClass)

	dir := cfg.WorkDir
	if dir == "" {
		dir = serverDir
	}
	return LaunchSpec{Path: java, Args: args, Env: cfg.Env, Dir: dir}, nil
}

// ValidateFopDir reports whether dir looks like a FOP distribution: a build
// directory with a fop jar and a lib directory.
func ValidateFopDir(dir string) error {
	build := filepath.Join(dir, "build")
	jars, err := jarsIn(build)
	if err != nil {
		return fperrors.New(fperrors.ErrCodeEngineNotFound, "ValidateFopDir", "build directory not found in "+dir, err)
	}
	found := false
	for _, j := range jars {
		if strings.HasPrefix(strings.ToLower(filepath.Base(j)), "fop") {
			found = true
			break
		}
	}
	if !found {
		return fperrors.New(fperrors.ErrCodeEngineNotFound, "ValidateFopDir", "no fop jar found in "+build, nil)
	}
	if info, err := os.Stat(filepath.Join(dir, "lib")); err != nil || !info.IsDir() {
		return fperrors.New(fperrors.ErrCodeEngineNotFound, "ValidateFopDir", "lib directory not found in "+dir, err)
	}
	return nil
}

func resolveJava(cfg protocol.EngineConfig) (string, error) {
	if cfg.JavaPath != "" {
		if _, err := os.Stat(cfg.JavaPath); err != nil {
			return "", fperrors.New(fperrors.ErrCodeEngineNotFound, "ResolveLaunch", "java not found at: "+cfg.JavaPath, err)
		}
		return cfg.JavaPath, nil
	}

	var candidates []string
	// Bundled layout: <resources>/jre next to <resources>/fop
	candidates = append(candidates, filepath.Join(filepath.Dir(filepath.Clean(cfg.FopDir)), "jre", "bin", javaBinary()))
	if home := os.Getenv(consts.EnvJavaHome); home != "" {
		candidates = append(candidates, filepath.Join(home, "bin", javaBinary()))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	if path, err := exec.LookPath("java"); err == nil {
		return path, nil
	}
	return "", fperrors.New(fperrors.ErrCodeEngineNotFound, "ResolveLaunch",
		fmt.Sprintf("java not found (tried %s and PATH)", strings.Join(candidates, ", ")), nil)
}

func javaBinary() string {
	if runtime.GOOS == "windows" {
		return "java.exe"
	}
	return "java"
}

func jarsIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var jars []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".jar") {
			jars = append(jars, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(jars)
	return jars, nil
}

// Personal.AI order the ending
