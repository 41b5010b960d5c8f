package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax so literal $ in narration text and shell snippets
// is left alone.
//
// Examples:
//   - {{.STEPD_ADDR}} → value of STEPD_ADDR environment variable
//   - {{.STEPD_HOST}}:{{.STEPD_PORT}} → both variables expanded
//   - content: "export PATH=$PATH" → preserved literally
//
// Missing variables expand to empty string. Malformed templates return the
// input unchanged so the YAML parser reports the problem.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok && key != "" {
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
