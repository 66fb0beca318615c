package main

import (
	"os"

	"github.com/go-delve/attach/cmd/dlv-attach/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
