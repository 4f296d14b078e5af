// Command catalogd serves the wholesale catalog offline-first: it fronts
// the catalog site with a generation-versioned response cache, accepts
// orders and queues them while the remote order service is unreachable,
// and drains the queue when connectivity returns.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
