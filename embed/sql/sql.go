// Package embedsql bundles the SQLite schema applied by db.Init.
package embedsql

import _ "embed"

//go:embed schema.sql
var Schema string
