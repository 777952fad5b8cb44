// Command routeexplain prints how a statement routes under a shardroute
// config: the routing engine, every unit and the sql each unit runs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
