package graph_assets

import "embed"

//go:embed index.html
var Assets embed.FS
