// sidebandctl is the management tool for sidebandd's control channel.
//
//	sidebandctl [flags] instances   query every attached instance
//	sidebandctl [flags] channel     show the channel ID and state
//
// The channel only exists while at least one instance is attached; when it
// is absent the tool exits with status 2.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/sideband-filter/internal/control"
	"github.com/nerrad567/sideband-filter/internal/filter"
)

const defaultSocket = "/run/sideband/dev/sideband"

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitNoChannel = 2
	exitUsage     = 64
)

type options struct {
	socket  string
	timeout time.Duration
	code    uint32
	json    bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := options{}
	flags := pflag.NewFlagSet("sidebandctl", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.socket, "socket", "s", envOr("SIDEBAND_CONTROL_SOCKET", defaultSocket), "control channel socket or alias")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 5*time.Second, "request timeout")
	flags.Uint32Var(&opts.code, "code", 0, "request code sent with instances queries")
	flags.BoolVar(&opts.json, "json", false, "print raw JSON")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: sidebandctl [flags] instances|channel")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return exitUsage
	}

	client := control.NewClient(opts.socket, opts.timeout)

	var err error
	switch flags.Arg(0) {
	case "instances":
		err = queryInstances(ctx, client, opts, stdout)
	case "channel":
		err = showChannel(ctx, client, opts, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", flags.Arg(0))
		flags.Usage()
		return exitUsage
	}

	switch {
	case err == nil:
		return exitOK
	case channelAbsent(err):
		fmt.Fprintln(stderr, "control channel is not available (no instances attached?)")
		return exitNoChannel
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}

func queryInstances(ctx context.Context, client *control.Client, opts options, w io.Writer) error {
	resp, err := client.Query(ctx, filter.Request{Code: opts.code})
	if err != nil {
		return err
	}
	if opts.json {
		return printJSON(w, resp)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HANDLE\tSERIAL\tVALID")
	for _, inst := range resp.Instances {
		fmt.Fprintf(tw, "%s\t%d\t%t\n", inst.Handle, inst.SerialNumber, inst.SerialValid)
	}
	return tw.Flush()
}

func showChannel(ctx context.Context, client *control.Client, opts options, w io.Writer) error {
	info, err := client.Channel(ctx)
	if err != nil {
		return err
	}
	if opts.json {
		return printJSON(w, info)
	}
	_, err = fmt.Fprintf(w, "id:    %s\nstate: %s\n", info.ID, info.State)
	return err
}

// channelAbsent reports whether err means there is no live channel behind
// the socket: it was deleted mid-request, or the socket is gone or stale.
func channelAbsent(err error) bool {
	return errors.Is(err, control.ErrChannelDeleted) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
