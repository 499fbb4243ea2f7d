package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/travelmesh"
	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/logging"
	"github.com/hupe1980/travelmesh/orchestrator"
)

func newChatCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		offline    bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the travel agents from the terminal",
		Long: `Sends a single message when one is given as arguments, otherwise reads
messages line by line from standard input until EOF or "exit".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if offline {
				cfg.Oracle.Provider = "scripted"
			}

			optFns := []func(o *travelmesh.Options){}
			if !verbose {
				optFns = append(optFns, func(o *travelmesh.Options) { o.Logger = logging.NoOpLogger{} })
			}
			mesh, err := travelmesh.New(cfg, optFns...)
			if err != nil {
				return err
			}
			defer mesh.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return chatOnce(ctx, mesh.Router, out, userID, strings.Join(args, " "))
			}
			return chatLoop(ctx, mesh.Router, cmd.InOrStdin(), out, userID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to travelmesh config file (defaults apply when empty)")
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "user id owning the chat session")
	cmd.Flags().BoolVar(&offline, "offline", false, "use the scripted oracle instead of a language model")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "write logs to stderr")
	return cmd
}

func chatOnce(ctx context.Context, router *orchestrator.Router, out io.Writer, userID, text string) error {
	msg, err := router.Handle(ctx, userID, text)
	if err != nil {
		return err
	}
	printMessage(out, msg)
	return nil
}

func chatLoop(ctx context.Context, router *orchestrator.Router, in io.Reader, out io.Writer, userID string) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "exit" || line == "quit":
			return nil
		case line != "":
			if err := chatOnce(ctx, router, out, userID, line); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "> ")
	}
	fmt.Fprintln(out)
	return sc.Err()
}

func printMessage(out io.Writer, msg orchestrator.OutgoingMessage) {
	fmt.Fprintln(out, msg.Text)
	for i, o := range offersOf(msg.Payload) {
		fmt.Fprintf(out, "  %d. %s | %s %s | %s\n", i+1, o.Title, o.Price.StringFixed(2), o.Currency, o.ID)
	}
	if msg.Warning != "" {
		fmt.Fprintf(out, "warning: %s\n", msg.Warning)
	}
}

func offersOf(p core.Payload) []core.Offer {
	switch v := p.(type) {
	case core.FlightOptions:
		return v.Offers
	case core.HotelOptions:
		return v.Offers
	case core.TrainOptions:
		return v.Offers
	case core.BusOptions:
		return v.Offers
	default:
		return nil
	}
}
