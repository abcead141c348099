package ffbuild

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

var crossFileTmpl = template.Must(template.New("cross").Funcs(template.FuncMap{
	"list": mesonList,
}).Parse(`[binaries]
c = 'clang'
cpp = 'clang++'
objc = 'clang'
ar = 'ar'
strip = 'strip'
pkg-config = 'pkg-config'

[built-in options]
c_args = {{list .CFlags}}
cpp_args = {{list .CFlags}}
objc_args = {{list .CFlags}}
c_link_args = {{list .LDFlags}}
cpp_link_args = {{list .LDFlags}}

[properties]
pkg_config_libdir = '{{.PkgConfigDir}}'

[host_machine]
system = 'darwin'
cpu_family = '{{.CPUFamily}}'
cpu = '{{.CPU}}'
endian = 'little'
`))

// mesonList renders a space-separated flag string as a meson array.
func mesonList(flags string) string {
	fields := strings.Fields(flags)
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = "'" + strings.ReplaceAll(f, "'", `\'`) + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

type crossFileData struct {
	CFlags       string
	LDFlags      string
	PkgConfigDir string
	CPUFamily    string
	CPU          string
}

// renderCrossFile describes t to meson as the host machine.
func renderCrossFile(t Target) ([]byte, error) {
	var buf bytes.Buffer
	err := crossFileTmpl.Execute(&buf, crossFileData{
		CFlags:       t.CFlags(),
		LDFlags:      t.LDFlags(),
		PkgConfigDir: t.PkgConfigDir(),
		CPUFamily:    t.CPUFamily,
		CPU:          t.CPU,
	})
	if err != nil {
		return nil, fmt.Errorf("render cross file: %w", err)
	}
	return buf.Bytes(), nil
}

func crossFilePath(t Target, workDir string) string {
	return filepath.Join(workDir, "cross-"+t.Name+".ini")
}

// writeCrossFile writes the cross file for t into workDir and returns its path.
func writeCrossFile(t Target, workDir string) (string, error) {
	data, err := renderCrossFile(t)
	if err != nil {
		return "", err
	}
	p := crossFilePath(t, workDir)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write cross file: %w", err)
	}
	return p, nil
}
