// Package configs provides the embedded configuration template written
// by `citegrep init`. Embedding at build time keeps the template
// available in every distribution of the binary.
package configs

import _ "embed"

// ProjectConfigTemplate is the annotated template for a project's
// .citegrep.yaml. Written by `citegrep init`; see
// internal/config/config.go Load() for the layering order.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
