// Command kvs-client is a thin CLI for talking to kvs-server: get, set, rm.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/launix-de/kvs/internal/wire"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return usageError()
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:4000", "server address")

	switch args[0] {
	case "get":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: kvs-client get <key>")
		}
		return doGet(*addr, fs.Arg(0))

	case "set":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 2 {
			return fmt.Errorf("usage: kvs-client set <key> <value>")
		}
		return doSet(*addr, fs.Arg(0), fs.Arg(1))

	case "rm":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: kvs-client rm <key>")
		}
		return doRemove(*addr, fs.Arg(0))

	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf("usage: kvs-client <get|set|rm> [--addr ADDR] ...")
}

func doGet(addr, key string) error {
	resp, err := roundTrip(addr, wire.Request{Kind: wire.Get, Key: key})
	if err != nil {
		return err
	}
	if !resp.Ok {
		return fmt.Errorf("%s", resp.Err)
	}
	if resp.Value == nil {
		fmt.Println("Key not found")
		return nil
	}
	fmt.Println(*resp.Value)
	return nil
}

func doSet(addr, key, value string) error {
	resp, err := roundTrip(addr, wire.Request{Kind: wire.Set, Key: key, Value: value})
	if err != nil {
		return err
	}
	if !resp.Ok {
		return fmt.Errorf("%s", resp.Err)
	}
	return nil
}

func doRemove(addr, key string) error {
	resp, err := roundTrip(addr, wire.Request{Kind: wire.Remove, Key: key})
	if err != nil {
		return err
	}
	if !resp.Ok {
		return fmt.Errorf("%s", resp.Err)
	}
	return nil
}

func roundTrip(addr string, req wire.Request) (wire.Response, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return wire.Response{}, err
	}
	defer conn.Close()

	if err := wire.WriteRequest(conn, req); err != nil {
		return wire.Response{}, err
	}
	return wire.ReadResponse(conn)
}
