// Package metadata builds the document served to guests over the microVM
// metadata service. The layout follows the EC2-style tree cloud-init's
// datasource walks: latest/meta-data for identity, latest/user-data for the
// cloud-config payload.
package metadata

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Config holds the inputs for generating guest metadata.
type Config struct {
	InstanceID   string
	Hostname     string
	RootPassword string
}

var tmplFuncs = template.FuncMap{
	// yamlQuote escapes single quotes for YAML single-quoted strings.
	"yamlQuote": func(s string) string {
		return strings.ReplaceAll(s, "'", "''")
	},
}

var userDataTmpl = template.Must(template.New("user-data").Funcs(tmplFuncs).Parse(`#cloud-config
{{- if .RootPassword}}
chpasswd:
  expire: false
  list:
    - 'root:{{yamlQuote .RootPassword}}'
ssh_pwauth: true
disable_root: false
{{- end}}
`))

// Build renders the metadata document for cfg.
func Build(cfg *Config) (map[string]any, error) {
	var buf bytes.Buffer
	if err := userDataTmpl.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("render user-data: %w", err)
	}

	return map[string]any{
		"latest": map[string]any{
			"meta-data": map[string]any{
				"instance-id":    cfg.InstanceID,
				"local-hostname": cfg.Hostname,
			},
			"user-data": buf.String(),
		},
	}, nil
}
