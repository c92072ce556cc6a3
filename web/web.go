// Package web embeds the built frontend assets served by the HTTP server.
package web

import "embed"

//go:embed dist
var DistFS embed.FS
