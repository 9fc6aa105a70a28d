// Command gateway runs the API gateway: it discovers backend instances,
// balances and circuit-breaks forwarded requests, enforces request quotas
// and verifies bearer credentials.
package main

import (
	"flag"
	"fmt"
	"os"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "configs/gateway.yaml", "path to the gateway configuration file")
		showVersion = flag.Bool("version", false, "print version and exit")
		validate    = flag.Bool("validate", false, "validate the configuration and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("gateway %s (%s)\n", version, commit)
		return
	}

	if err := run(*configPath, *validate); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}
