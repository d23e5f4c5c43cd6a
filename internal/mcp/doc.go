// Package mcp implements a Model Context Protocol (MCP) server using the
// mcp-go library.
//
// The server exposes the repo operations as MCP tools so AI assistants
// can list, read and bundle a served source tree through a standardized
// protocol instead of raw HTTP. Communication runs over stdin/stdout
// using JSON-RPC 2.0 as specified by the MCP standard.
package mcp
