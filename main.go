package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/eventual-inc/daft-launcher/pkg/cmd"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/cmderrors"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

func main() {
	os.Exit(run())
}

func run() int {
	er := dafterrors.GetDefaultErrorReporter()
	done := er.Setup()
	defer done()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := cmd.NewDaftCommand()
	if err := command.ExecuteContext(ctx); err != nil {
		cmderrors.DisplayAndHandleError(terminal.New(), err)
		return cmderrors.ExitCode(err)
	}
	return 0
}
