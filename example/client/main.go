package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/msgnet"
	"github.com/Zereker/msgnet/config"
	"github.com/Zereker/msgnet/example/protocol"
)

type client = msgnet.Client[protocol.MsgType]

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "msgnet-client",
		Short: "Example msgnet game client",
		Long: `Connects to the example server and reads commands from stdin:

  p   ping the server and print the round trip time
  a   ask the server to greet every other client
  q   quit`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), configPath, func(ctx context.Context, c *client, _ *config.ClientConfig) error {
				return interactive(ctx, c, os.Stdin, cmd.OutOrStdout())
			})
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(pingCmd(&configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func pingCmd(configPath *string) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Ping the server at the configured interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), *configPath, func(ctx context.Context, c *client, cfg *config.ClientConfig) error {
				return ping(ctx, c, count, cfg.PingInterval, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 4, "number of pings, 0 pings until interrupted")

	return cmd
}

// withClient loads the config, connects and waits for the server's
// verdict before handing the client to fn.
func withClient(ctx context.Context, configPath string, fn func(context.Context, *client, *config.ClientConfig) error) error {
	var cfg config.ClientConfig
	if err := config.Load(configPath, &cfg); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	c := msgnet.NewClient[protocol.MsgType](cfg.Options(logger)...)
	if err := c.Connect(cfg.Host, cfg.Port); err != nil {
		return err
	}
	defer c.Disconnect()

	msg, err := receive(ctx, c)
	if err != nil {
		return err
	}
	if msg.Header.ID != protocol.ServerAccept {
		return errors.Errorf("server answered %s", msg.Header.ID)
	}
	logger.Info("server accepted connection", "host", cfg.Host, "port", cfg.Port)

	return fn(ctx, c, &cfg)
}

// receive waits for the next message from the server.
func receive(ctx context.Context, c *client) (*msgnet.Message[protocol.MsgType], error) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if owned, ok := c.Incoming().TryPopFront(); ok {
			return owned.Msg, nil
		}
		if !c.IsConnected() {
			return nil, msgnet.ErrConnectionClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func ping(ctx context.Context, c *client, count int, interval time.Duration, out io.Writer) error {
	for i := 0; count <= 0 || i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}

		if err := c.Send(protocol.NewPing(time.Now())); err != nil {
			return err
		}

		for {
			msg, err := receive(ctx, c)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if msg.Header.ID != protocol.ServerPing {
				report(out, msg)
				continue
			}

			rtt, err := protocol.PingRTT(msg, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Ping: %s\n", rtt)
			break
		}
	}
	return nil
}

func interactive(ctx context.Context, c *client, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			var err error
			switch line {
			case "p":
				err = c.Send(protocol.NewPing(time.Now()))
			case "a":
				err = c.Send(msgnet.NewMessage(protocol.MessageAll))
			case "q":
				return nil
			case "":
			default:
				fmt.Fprintf(out, "unknown command %q\n", line)
			}
			if err != nil {
				return err
			}

		case <-ticker.C:
			for {
				owned, ok := c.Incoming().TryPopFront()
				if !ok {
					break
				}
				report(out, owned.Msg)
			}
			if !c.IsConnected() {
				fmt.Fprintln(out, "Server Down")
				return nil
			}
		}
	}
}

func report(out io.Writer, msg *msgnet.Message[protocol.MsgType]) {
	switch msg.Header.ID {
	case protocol.ServerPing:
		if rtt, err := protocol.PingRTT(msg, time.Now()); err == nil {
			fmt.Fprintf(out, "Ping: %s\n", rtt)
		}
	case protocol.ServerMessage:
		if from, err := protocol.Sender(msg); err == nil {
			fmt.Fprintf(out, "Hello from [%d]\n", from)
		}
	case protocol.ServerDeny:
		fmt.Fprintln(out, "Server denied connection")
	default:
		fmt.Fprintf(out, "%s %s\n", msg.Header.ID, msg)
	}
}
