package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"patchbay"
	"patchbay/internal/peer"
	"patchbay/pkg"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	natsURL string
	prefix  string
	debug   bool
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:          "peersim",
		Short:        "Simulate peers on the patchbay NATS bus",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.natsURL, "nats", patchbay.GetEnv("NATS_URL", "nats://localhost:4222"), "NATS server URL")
	cmd.PersistentFlags().StringVar(&flags.prefix, "prefix", patchbay.GetEnv("NATS_PREFIX", "patchbay"), "subject prefix")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "verbose logging")

	cmd.AddCommand(
		enterCmd(flags),
		exitCmd(flags),
		modifyCmd(flags),
		signalCmd(flags),
		watchCmd(flags),
		demoCmd(flags),
		tokenCmd(),
	)
	return cmd
}

func (f *globalFlags) connect() (*peer.Bridge, error) {
	logger := patchbay.NewConsoleLogger(f.debug)
	return peer.NewBridge(f.natsURL, f.prefix, "peersim", logger)
}

// announce publishes one event and waits for the server to take it.
func (f *globalFlags) announce(action string, id string, name string, data any) error {
	bridge, err := f.connect()
	if err != nil {
		return err
	}
	defer bridge.Close()

	if err := bridge.Announce(action, id, name, data); err != nil {
		return err
	}
	if err := bridge.Flush(); err != nil {
		return err
	}
	fmt.Printf("  %s %s %s\n", brand.Sprintf("%-9s", action), id, subtle.Sprint(name))
	return nil
}

func nameArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return args[0]
}

func enterCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "enter <peer-id> [name]",
		Short: "Announce a peer joining the network",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.announce(peer.ActionEnter, args[0], nameArg(args), nil)
		},
	}
}

func exitCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exit <peer-id> [name]",
		Short: "Announce a peer leaving the network",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.announce(peer.ActionExit, args[0], nameArg(args), nil)
		},
	}
}

func modifyCmd(flags *globalFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "modify <peer-id> <json-object>",
		Short: "Announce port updates, e.g. '{\"out\":{\"access\":\"e\",\"subscribers\":[{\"peer\":\"b\",\"port\":\"in\"}]}}'",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var updates peer.PortUpdates
			if err := json.Unmarshal([]byte(args[1]), &updates); err != nil {
				return fmt.Errorf("port updates must be a JSON object: %w", err)
			}
			if name == "" {
				name = args[0]
			}
			return flags.announce(peer.ActionModified, args[0], name, updates)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "peer name (defaults to the id)")
	return cmd
}

func signalCmd(flags *globalFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "signal <peer-id> <port> <json-value>",
		Short: "Push a new value for one port",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any
			if err := json.Unmarshal([]byte(args[2]), &v); err != nil {
				// Bare words are sent as strings.
				v = args[2]
			}
			if name == "" {
				name = args[0]
			}
			return flags.announce(peer.ActionSignaled, args[0], name, peer.Signal{Port: args[1], Value: v})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "peer name (defaults to the id)")
	return cmd
}

func watchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the requests patchbay sends to peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			bridge, err := flags.connect()
			if err != nil {
				return err
			}
			defer bridge.Close()

			err = bridge.WatchRequests(func(subject string, data []byte) {
				action := subject[strings.LastIndex(subject, ".")+1:]
				c := info
				switch action {
				case peer.ActionUnsubscribe:
					c = warn
				case peer.ActionSet:
					c = brand
				}
				fmt.Printf("  %s %s %s\n", subtle.Sprint(time.Now().Format("15:04:05")), c.Sprintf("%-12s", action), string(data))
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			fmt.Println(subtle.Sprintf("  watching %s.peer.*.* (ctrl-c to stop)", flags.prefix))
			<-ctx.Done()
			return nil
		},
	}
}

// demoCmd plays a small session that exercises forward references: osc
// lists subscribers on peers that only enter afterwards.
func demoCmd(flags *globalFlags) *cobra.Command {
	var pause time.Duration
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Announce a few peers with subscriptions, including a forward reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			bridge, err := flags.connect()
			if err != nil {
				return err
			}
			defer bridge.Close()

			steps := []struct {
				action, id string
				data       any
			}{
				{peer.ActionEnter, "osc", nil},
				{peer.ActionModified, "osc", peer.PortUpdates{
					{Name: "out", Data: peer.Capability("e", 0.0).WithTypeHint("flt").
						WithSubscribers(peer.SubscriberRef{Peer: "mixer", Port: "in1"}, peer.SubscriberRef{Peer: "scope", Port: "in"})},
					{Name: "freq", Data: peer.Capability("s", 440).WithTypeHint("int")},
					{Name: peer.MetaPosition, Data: peer.Metadata([]float64{40, 80})},
				}},
				{peer.ActionEnter, "mixer", nil},
				{peer.ActionModified, "mixer", peer.PortUpdates{
					{Name: "in1", Data: peer.Capability("s", 0.0)},
					{Name: "gain", Data: peer.Capability("s", 0.8).WithTypeHint("percent")},
					{Name: "pan", Data: peer.Capability("s", []float64{0, 0}).WithTypeHint("vec2f")},
				}},
				{peer.ActionSignaled, "osc", peer.Signal{Port: "freq", Value: 220}},
				{peer.ActionEnter, "scope", nil},
				{peer.ActionModified, "scope", peer.PortUpdates{
					{Name: "in", Data: peer.Capability("s", nil)},
				}},
			}

			for _, step := range steps {
				if err := bridge.Announce(step.action, step.id, step.id, step.data); err != nil {
					bad.Printf("  %s %s failed: %v\n", step.action, step.id, err)
					return err
				}
				fmt.Printf("  %s %s\n", brand.Sprintf("%-9s", step.action), step.id)
				time.Sleep(pause)
			}
			return bridge.Flush()
		},
	}
	cmd.Flags().DurationVar(&pause, "pause", 300*time.Millisecond, "delay between steps")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		role   string
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Mint a bearer token for the patchbay API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("a secret is required (--secret or JWT_SECRET)")
			}
			token, err := pkg.GenerateToken(args[0], role, secret, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&role, "role", "operator", "operator or viewer")
	cmd.Flags().StringVar(&secret, "secret", patchbay.GetEnv("JWT_SECRET", ""), "HMAC secret")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
