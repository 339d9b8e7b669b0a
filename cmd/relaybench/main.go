package main

import (
	"os"

	"github.com/relaybench/relaybench/cmd/relaybench/cmd"
	"github.com/relaybench/relaybench/internal/common"
	"github.com/relaybench/relaybench/internal/common/logging"
)

func main() {
	logging.ConfigureCommandLineLogging()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
