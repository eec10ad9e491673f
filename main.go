// =============================================================================
// ICBU Broker - Main Entry Point
// =============================================================================
//
// USAGE:
//   broker serve        - Start the HTTP API
//   broker schema ...   - Offline schema tools
//   broker youtube ...  - Download and clean up videos
//   broker config       - Print the effective configuration
//   broker version      - Display the application version
//
// LAYOUT:
//   cmd/       : Cobra command definitions
//   internal/  : Alibaba client, schema pipeline, downloader, HTTP API
//   pkg/       : Shared file utilities
//
// =============================================================================

package main

import (
	"github.com/billlvtech/icbu-broker/cmd"
)

func main() {
	cmd.Execute()
}
