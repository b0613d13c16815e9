package bridge

import (
	"fmt"
	"strings"
)

// Launcher builds the host command that asks the engine to run an action.
type Launcher interface {
	Command(script, action string, args []string) (name string, argv []string)
}

// LauncherConfig identifies the engine application per host.
type LauncherConfig struct {
	Platform      string // darwin, windows or exec
	ApplicationID string
	ProgID        string
}

// NewLauncher selects the launcher for the configured platform.
func NewLauncher(cfg LauncherConfig) (Launcher, error) {
	switch cfg.Platform {
	case "darwin":
		if cfg.ApplicationID == "" {
			return nil, fmt.Errorf("darwin launcher needs an application id")
		}
		return AppleScriptLauncher{ApplicationID: cfg.ApplicationID}, nil
	case "windows":
		if cfg.ProgID == "" {
			return nil, fmt.Errorf("windows launcher needs a COM prog id")
		}
		return COMLauncher{ProgID: cfg.ProgID}, nil
	case "exec":
		return DirectLauncher{}, nil
	default:
		return nil, fmt.Errorf("platform %q is not supported", cfg.Platform)
	}
}

// AppleScriptLauncher drives a scriptable macOS application through osascript.
type AppleScriptLauncher struct {
	ApplicationID string
}

// Command returns the osascript invocation.
func (l AppleScriptLauncher) Command(script, action string, args []string) (string, []string) {
	quoted := make([]string, 0, len(args)+1)
	for _, a := range append([]string{action}, args...) {
		quoted = append(quoted, appleScriptString(a))
	}

	stmt := fmt.Sprintf(
		"tell application id %s to do script %s with arguments {%s} language javascript",
		appleScriptString(l.ApplicationID),
		appleScriptString(script),
		strings.Join(quoted, ","),
	)
	return "osascript", []string{"-e", stmt}
}

// COMLauncher drives a Windows COM automation server through PowerShell.
type COMLauncher struct {
	ProgID string
}

// javascriptLanguage is the ScriptLanguage enum value for JavaScript in the DoScript COM call.
const javascriptLanguage = 1246973031

// Command returns the powershell invocation.
func (l COMLauncher) Command(script, action string, args []string) (string, []string) {
	quoted := make([]string, 0, len(args)+1)
	for _, a := range append([]string{action}, args...) {
		quoted = append(quoted, powerShellString(a))
	}

	stmt := fmt.Sprintf(
		"$app = New-Object -ComObject %s; $app.DoScript(%s, %d, @(%s))",
		l.ProgID,
		powerShellString(script),
		javascriptLanguage,
		strings.Join(quoted, ","),
	)
	return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", stmt}
}

// DirectLauncher executes the script itself with the action as first argument.
type DirectLauncher struct{}

// Command returns the direct invocation.
func (DirectLauncher) Command(script, action string, args []string) (string, []string) {
	return script, append([]string{action}, args...)
}

func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func powerShellString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
