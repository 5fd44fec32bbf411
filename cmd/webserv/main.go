package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "webserv",
		Short: "A single-process, event-driven HTTP/1.1 server with CGI support",
		Long: `webserv is a single-process, event-driven HTTP/1.1 server that
multiplexes client connections and CGI child processes over one
readiness loop. It serves static files, accepts uploads, and runs CGI
or FastCGI backends, all from one configuration file.

Use 'webserv run' to start the server in the foreground, or
'webserv validate' to type-check a configuration file without
starting it.`,
		SilenceUsage: true,
	}

	root.AddCommand(runCmd(), validateCmd())
	return root
}
