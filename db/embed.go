// Package db embeds the PostgreSQL migrations.
package db

import "embed"

// Migrations holds the DDL files, applied in lexical order.
//
//go:embed migrations/*.sql
var Migrations embed.FS
