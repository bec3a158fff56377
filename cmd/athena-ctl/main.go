package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"athena/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	timeout := cli.DurationP("timeout", "t", time.Minute, "How long to wait for the daemon")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: athena-ctl [flags] stop | say <text> | run <command>\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		cli.Usage()
		os.Exit(2)
	}

	msg := ipc.ControlMessage{Cmd: args[0], Text: strings.Join(args[1:], " ")}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if _, err := ipc.SendCommand(ctx, *socket, msg); err != nil {
		fmt.Fprintln(os.Stderr, "athena:", err)
		os.Exit(1)
	}
}
