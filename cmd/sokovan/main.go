package main

import (
	"os"

	"github.com/lablup/sokovan/cmd/sokovan/cmd"
	"github.com/lablup/sokovan/internal/common"
)

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
