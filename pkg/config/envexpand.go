package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands {{.VAR}} placeholders in YAML content against the
// process environment, using Go's text/template so that shell-style
// ${VAR} and $VAR sequences (common in masking regexes and passwords)
// pass through untouched rather than colliding with the placeholder
// syntax (config carries secrets as env-var indirection, never literal
// values, per SPEC_FULL.md §2.3).
//
// A variable absent from the environment expands to the empty string;
// validation catches required fields left empty this way. Malformed
// template syntax is returned unchanged rather than erroring, so the
// YAML parser (or a later validation pass) reports the real problem.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("mucp.yaml").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap()); err != nil {
		return data
	}
	return buf.Bytes()
}

func envMap() map[string]string {
	environ := os.Environ()
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}
