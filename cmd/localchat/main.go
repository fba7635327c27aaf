package main

import (
	"context"
	"fmt"
	"os"

	"localchat/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "localchat:", err)
		os.Exit(1)
	}
}
