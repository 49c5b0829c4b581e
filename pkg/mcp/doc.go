// Package mcp connects to Model Context Protocol servers over stdio.
//
// A Cache keeps one connection per server name for the whole process and
// connects at most once under concurrent first use. A Hub presents the
// configured servers as one tool list and routes calls by owning server.
package mcp
