// Command vaultctl 通过 HTTP 接口上传、下载与查看文本文件。
//
//	vaultctl upload notes.txt
//	vaultctl stat <id>
//	vaultctl download <id> -o notes.txt
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"textvault/internal/client"
	"textvault/internal/logging"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// AddrEnv 指定默认服务地址的环境变量。
const AddrEnv = "TEXTVAULT_ADDR"

const defaultAddr = "http://localhost:8080"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var addr, output string
	var verbose bool

	addrDefault := os.Getenv(AddrEnv)
	if addrDefault == "" {
		addrDefault = defaultAddr
	}

	flagSet := pflag.NewFlagSet("vaultctl", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", addrDefault, "server base URL (env: "+AddrEnv+")")
	flagSet.StringVarP(&output, "output", "o", "", "download: write content to this path instead of stdout")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log requests to stderr")
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: vaultctl [flags] upload <file> | download <id> | stat <id>")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) != 2 {
		flagSet.Usage()
		return fmt.Errorf("expected a command and one argument, got %d arguments", len(rest))
	}

	logger := zap.NewNop()
	if verbose {
		l, err := logging.New("debug", "console")
		if err != nil {
			return err
		}
		logger = l
		defer logger.Sync()
	}

	c, err := client.New(client.Config{BaseURL: addr, Logger: logger})
	if err != nil {
		return err
	}

	command, arg := rest[0], rest[1]
	switch command {
	case "upload":
		return upload(ctx, c, arg, stdout)
	case "download":
		return download(ctx, c, arg, output, stdout)
	case "stat":
		return stat(ctx, c, arg, stdout)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func upload(ctx context.Context, c *client.Client, path string, stdout io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	result, err := c.Upload(ctx, filepath.Base(path), file)
	if err != nil {
		if client.IsInvalidInput(err) {
			return fmt.Errorf("rejected %s: %w", path, err)
		}
		return err
	}

	state := "created"
	if result.Deduplicated {
		state = "deduplicated"
	}
	_, err = fmt.Fprintf(stdout, "%s\t%s\n", result.ID, state)
	return err
}

func download(ctx context.Context, c *client.Client, id, output string, stdout io.Writer) error {
	file, err := c.Download(ctx, id)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("file %s not found: %w", id, err)
		}
		return err
	}
	defer file.Content.Close()

	if output == "" {
		_, err := io.Copy(stdout, file.Content)
		return err
	}

	dst, err := os.Create(output)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, file.Content); err != nil {
		dst.Close()
		os.Remove(output)
		return fmt.Errorf("write %s: %w", output, err)
	}
	return dst.Close()
}

func stat(ctx context.Context, c *client.Client, id string, stdout io.Writer) error {
	record, err := c.Stat(ctx, id)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("file %s not found: %w", id, err)
		}
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(record)
}
