// Package client is the Go client for a running manager's HTTP API and gRPC
// health service. The CLI uses it for status queries and new managers use it
// to join the raft cluster.
package client
