//go:build tools

// Package tools pins the linters and formatters used on tab's sources.
package tools

import (
	_ "github.com/daixiang0/gci"
	_ "github.com/golangci/golangci-lint/v2/cmd/golangci-lint"
	_ "mvdan.cc/gofumpt"
)
