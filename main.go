package main

import (
	"context"
	"os"

	"github.com/tencdm/tencdm/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
