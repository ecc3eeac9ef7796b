package config

import "embed"

const lifecycleSchemaFile = "schema/lifecycle.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
