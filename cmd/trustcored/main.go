// Command trustcored runs the trust core's HTTP server and database
// maintenance subcommands, adapted from the teacher's cmd/gridapi entrypoint.
package main

import "github.com/athendat/classical-server-app-sub000/cmd/trustcored/cmd"

func main() {
	cmd.Execute()
}
