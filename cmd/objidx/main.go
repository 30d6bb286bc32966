// Command objidx queries and maintains an object-history index.
package main

import (
	"context"
	"os"

	"github.com/roach88/objidx/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return
	}

	format, ferr := cmd.PersistentFlags().GetString("format")
	if ferr != nil || format != "json" {
		format = "text"
	}
	out := &cli.OutputFormatter{Format: format, Writer: os.Stderr}
	if format == "json" {
		out.Writer = os.Stdout
	}
	_ = out.ReportError(err)
	os.Exit(cli.GetExitCode(err))
}
