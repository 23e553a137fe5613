// Command iapctl inspects and maintains the persisted entitlement snapshot
// that iapd writes, and mints operator tokens for its admin routes.
package main

import (
	"os"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
)

func main() {
	log.SetHandler(clihandler.Default)
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
