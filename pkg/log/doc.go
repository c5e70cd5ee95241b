/*
Package log provides structured logging for the registry using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	raftLog := log.WithComponent("raft")
	raftLog.Info().Uint64("term", term).Msg("became leader")

Component loggers are scoped per subsystem: "raft", "registry", "mirror",
"api". WithNodeID, WithProject, and WithEntity attach the corresponding
identifier so multi-node, multi-project log streams can be filtered.

# See Also

  - pkg/manager for the component loggers used by the Raft integration
  - pkg/api for the "api" component logger used by the HTTP server
*/
package log
