package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonMarshal(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func TestNewLauncher(t *testing.T) {
	l, err := NewLauncher(LauncherConfig{Platform: "darwin", ApplicationID: "com.adobe.indesign"})
	require.NoError(t, err)
	assert.IsType(t, AppleScriptLauncher{}, l)

	l, err = NewLauncher(LauncherConfig{Platform: "windows", ProgID: "InDesign.Application"})
	require.NoError(t, err)
	assert.IsType(t, COMLauncher{}, l)

	l, err = NewLauncher(LauncherConfig{Platform: "exec"})
	require.NoError(t, err)
	assert.IsType(t, DirectLauncher{}, l)

	_, err = NewLauncher(LauncherConfig{Platform: "plan9"})
	assert.Error(t, err)

	_, err = NewLauncher(LauncherConfig{Platform: "darwin"})
	assert.Error(t, err)
}

func TestAppleScriptLauncher_Command(t *testing.T) {
	name, argv := AppleScriptLauncher{ApplicationID: "com.adobe.indesign"}.
		Command("/srv/jsx/indesign.jsx", "inspect", []string{"/storage/a b/doc.idml", "mm", `/odd"path`})

	assert.Equal(t, "osascript", name)
	require.Len(t, argv, 2)
	assert.Equal(t, "-e", argv[0])
	assert.Equal(t,
		`tell application id "com.adobe.indesign" to do script "/srv/jsx/indesign.jsx" `+
			`with arguments {"inspect","/storage/a b/doc.idml","mm","/odd\"path"} language javascript`,
		argv[1])
}

func TestCOMLauncher_Command(t *testing.T) {
	name, argv := COMLauncher{ProgID: "InDesign.Application"}.
		Command(`C:\juillet\indesign.jsx`, "inspect", []string{`C:\storage\o'brien\doc.idml`, "pt"})

	assert.Equal(t, "powershell", name)
	assert.Equal(t, []string{"-NoProfile", "-NonInteractive", "-Command",
		`$app = New-Object -ComObject InDesign.Application; ` +
			`$app.DoScript('C:\juillet\indesign.jsx', 1246973031, @('inspect','C:\storage\o''brien\doc.idml','pt'))`,
	}, argv)
}

func TestDirectLauncher_Command(t *testing.T) {
	name, argv := DirectLauncher{}.Command("./engine", "inspect", []string{"a", "b"})
	assert.Equal(t, "./engine", name)
	assert.Equal(t, []string{"inspect", "a", "b"}, argv)
}
