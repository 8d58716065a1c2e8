// Package fakeengine is a stand-in for the FOP server used by tests. A test
// binary re-executes itself with EnvMode set and calls Main from TestMain.
package fakeengine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	EnvMode  = "FOPWATCH_FAKE_ENGINE"
	EnvDelay = "FOPWATCH_FAKE_DELAY"
)

// Behaviours selected through EnvMode.
const (
	ModeNormal          = "normal"
	ModeSilent          = "silent"            // never reports ready
	ModeCrashOnGenerate = "crash-on-generate" // exits with status 3 on the first generate
	ModeIgnoreShutdown  = "ignore-shutdown"   // never exits on its own
	ModeNoisy           = "noisy"             // chatter plus frames split across writes
	ModeEcho            = "echo"              // success message is the raw command line
	ModeSlow            = "slow"              // sleeps EnvDelay before answering generate
)

// Active reports whether this process was launched as a fake engine.
func Active() bool {
	return os.Getenv(EnvMode) != ""
}

// Main runs the fake engine on the process's standard streams and returns its exit code.
func Main() int {
	delay, _ := time.ParseDuration(os.Getenv(EnvDelay))
	return Run(os.Stdin, os.Stdout, os.Stderr, os.Getenv(EnvMode), delay)
}

// Command returns the argv and environment that re-run the current test
// binary as a fake engine in the given mode.
func Command(mode string, delay time.Duration) (path string, args []string, env []string) {
	env = []string{EnvMode + "=" + mode}
	if delay > 0 {
		env = append(env, EnvDelay+"="+delay.String())
	}
	return os.Args[0], []string{"-test.run=^$"}, env
}

type command struct {
	Action     string `json:"action"`
	RequestID  int    `json:"requestId"`
	XMLPath    string `json:"xmlPath"`
	XSLPath    string `json:"xslPath"`
	OutputPath string `json:"outputPath"`
	WorkingDir string `json:"workingDir"`
}

type response struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	OutputPath string `json:"outputPath,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
	RequestID  int    `json:"requestId"`
}

// Run speaks the engine protocol until stdin closes or a shutdown arrives.
func Run(in io.Reader, out, errOut io.Writer, mode string, delay time.Duration) int {
	send := func(r response) {
		payload, _ := json.Marshal(r)
		fmt.Fprintf(out, "RESPONSE:%s\n", payload)
	}

	switch mode {
	case ModeSilent:
	case ModeNoisy:
		fmt.Fprintln(out, "SLF4J: Failed to load class \"org.slf4j.impl.StaticLoggerBinder\".")
		fmt.Fprintln(errOut, "WARNING: font cache rebuilt")
		payload, _ := json.Marshal(response{Status: "ready", Message: "FOP Server initialized and ready"})
		frame := "RESPONSE:" + string(payload) + "\n"
		fmt.Fprint(out, frame[:4])
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(out, frame[4:])
	default:
		send(response{Status: "ready", Message: "FOP Server initialized and ready"})
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		var cmd command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			send(response{Status: "error", Message: "Invalid JSON: " + err.Error()})
			continue
		}
		switch cmd.Action {
		case "ping":
			send(response{Status: "pong", Message: "Server is alive", RequestID: cmd.RequestID})
		case "shutdown":
			if mode == ModeIgnoreShutdown {
				continue
			}
			send(response{Status: "shutdown", Message: "Shutting down", RequestID: cmd.RequestID})
			return 0
		case "generate":
			if mode == ModeCrashOnGenerate {
				fmt.Fprintln(errOut, "Exception in thread \"main\" java.lang.OutOfMemoryError")
				return 3
			}
			if mode == ModeSlow {
				time.Sleep(delay)
			}
			if mode == ModeEcho {
				send(response{Status: "success", Message: line, OutputPath: cmd.OutputPath, RequestID: cmd.RequestID})
				continue
			}
			send(generate(cmd))
		default:
			send(response{Status: "error", Message: "Unknown action: " + cmd.Action, RequestID: cmd.RequestID})
		}
	}

	if mode == ModeIgnoreShutdown {
		time.Sleep(time.Hour)
	}
	return 0
}

func generate(cmd command) response {
	start := time.Now()
	fail := func(msg string) response {
		return response{Status: "error", Message: msg, StackTrace: "at FopServer.generatePdf", RequestID: cmd.RequestID}
	}
	if cmd.XMLPath == "" || cmd.XSLPath == "" || cmd.OutputPath == "" {
		return fail("Missing required parameters: xmlPath, xslPath, or outputPath")
	}
	xml, err := os.ReadFile(cmd.XMLPath)
	if err != nil {
		return fail("XML file not found: " + cmd.XMLPath)
	}
	if _, err := os.Stat(cmd.XSLPath); err != nil {
		return fail("XSL file not found: " + cmd.XSLPath)
	}
	if strings.Contains(string(xml), "FAIL") {
		return fail("PDF generation failed: org.apache.fop.fo.ValidationException: bad fo:block")
	}
	if err := os.WriteFile(cmd.OutputPath, append([]byte("%PDF-1.4 fake\n"), xml...), 0o644); err != nil {
		return fail("PDF generation failed: " + err.Error())
	}
	return response{
		Status:     "success",
		Message:    fmt.Sprintf("PDF generated successfully in %dms", time.Since(start).Milliseconds()),
		OutputPath: cmd.OutputPath,
		RequestID:  cmd.RequestID,
	}
}

// Personal.AI order the ending
