package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/transferbook/txprovider/internal/provider/httpapi"
)

const usage = `usage: transfer-cli [flags] <command> [args]

commands:
  state                       print provider state
  connect                     connect the wallet
  set <field> <value>         set one form field (addressTo|amount|keyword|message)
  form [--address-to ...]     replace the whole form
  send                        send the current form
  list                        list recorded transfers
  alerts                      list recent alerts
`

func main() {
	if err := runMain(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runMain(args []string, stdout io.Writer) error {
	return runWithClient(args, stdout, nil)
}

// runWithClient uses hc when non-nil, for tests.
func runWithClient(args []string, stdout io.Writer, hc *httpapi.Client) error {
	fs := flag.NewFlagSet("transfer-cli", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	baseURL := fs.String("url", "http://127.0.0.1:8090", "txprovider base URL")
	authEnv := fs.String("auth-env", "TXPROVIDER_AUTH_TOKEN", "env var holding the bearer token")
	timeout := fs.Duration("timeout", 6*time.Minute, "request timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return errors.New(strings.TrimSpace(usage))
	}
	if *timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}

	c := hc
	if c == nil {
		var err error
		c, err = httpapi.NewClient(*baseURL, strings.TrimSpace(os.Getenv(*authEnv)))
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		out any
		err error
	)
	switch cmd, cmdArgs := rest[0], rest[1:]; cmd {
	case "state":
		out, err = c.State(ctx)
	case "connect":
		out, err = c.Connect(ctx)
	case "set":
		if len(cmdArgs) != 2 {
			return errors.New("usage: set <field> <value>")
		}
		out, err = c.SetField(ctx, cmdArgs[0], cmdArgs[1])
	case "form":
		f, ferr := parseForm(cmdArgs)
		if ferr != nil {
			return ferr
		}
		out, err = c.SetForm(ctx, f)
	case "send":
		out, err = c.Send(ctx)
	case "list":
		out, err = c.Transactions(ctx)
	case "alerts":
		out, err = c.Alerts(ctx)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func parseForm(args []string) (httpapi.Form, error) {
	fs := flag.NewFlagSet("form", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var f httpapi.Form
	fs.StringVar(&f.AddressTo, "address-to", "", "recipient address")
	fs.StringVar(&f.Amount, "amount", "", "amount in ether")
	fs.StringVar(&f.Keyword, "keyword", "", "keyword")
	fs.StringVar(&f.Message, "message", "", "message")
	if err := fs.Parse(args); err != nil {
		return httpapi.Form{}, err
	}
	if fs.NArg() != 0 {
		return httpapi.Form{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}
