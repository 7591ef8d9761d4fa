// Command mpyrun connects to a MicroPython/CircuitPython device and runs a
// single snippet of code against it, printing the decoded result.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rjboer/mpyrepl/device"
	"github.com/rjboer/mpyrepl/internal/config"
)

var connect = device.Open

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Getenv); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("mpyrun", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	defaultConn := strings.TrimSpace(getenv("MPYREPL_CONN"))
	if defaultConn == "" {
		defaultConn = "serial:/dev/ttyACM0@115200"
	}

	connStr := fs.String("conn", defaultConn, "connection string: serial:<path>[@<baud>] or subprocess:<exe> [args...]")
	code := fs.String("c", "", "code to execute on the device")
	kind := fs.String("kind", "string", "result kind: string, int, float, bool, json")
	timeout := fs.Duration("timeout", 10*time.Second, "execution timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*code) == "" {
		return fmt.Errorf("mpyrun: -c is required")
	}

	sess, err := connect(*connStr, config.WithCommandTimeout(*timeout))
	if err != nil {
		return fmt.Errorf("mpyrun: connect: %w", err)
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			log.Printf("mpyrun: disconnect: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := execute(ctx, sess, *kind, *code, *timeout)
	if err != nil {
		return fmt.Errorf("mpyrun: execute: %w", err)
	}

	_, err = fmt.Fprintf(out, "%v\n", result)
	return err
}

func execute(ctx context.Context, sess *device.Session, kind, code string, timeout time.Duration) (any, error) {
	switch kind {
	case "int":
		return sess.ExecuteInt(ctx, code, timeout)
	case "float":
		return sess.ExecuteFloat(ctx, code, timeout)
	case "bool":
		return sess.ExecuteBool(ctx, code, timeout)
	case "json":
		return sess.ExecuteJSON(ctx, code, timeout)
	case "string", "":
		return sess.ExecuteString(ctx, code, timeout)
	default:
		return nil, fmt.Errorf("unknown -kind %q", kind)
	}
}
