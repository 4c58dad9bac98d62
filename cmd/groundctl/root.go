package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const (
	defaultServer = "http://localhost:5002"
	envServer     = "SATLINK_GROUND_URL"
	envKey        = "SATLINK_KEY"
)

type cli struct {
	server string
	key    string
	output string

	newClient func(server string) Client
	client    Client
	format    formatter
}

// newRootCmd builds the groundctl command tree. newClient is swapped out in
// tests.
func newRootCmd(newClient func(server string) Client) *cobra.Command {
	c := &cli{newClient: newClient}

	root := &cobra.Command{
		Use:   "groundctl",
		Short: "Operate a satlink ground station",
		Long: `groundctl submits commands to a satlink ground station and inspects its
link state, command history and journal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.server == "" {
				c.server = envOr(envServer, defaultServer)
			}
			if c.key == "" {
				c.key = os.Getenv(envKey)
			}
			f, err := newFormatter(c.output)
			if err != nil {
				return err
			}
			c.format = f
			c.client = c.newClient(c.server)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.server, "server", "", "ground station URL (default $"+envServer+" or "+defaultServer+")")
	root.PersistentFlags().StringVar(&c.key, "key", "", "operator credential (default $"+envKey+")")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "output format: table or json")

	root.AddCommand(c.sendCmd(), c.statusCmd(), c.historyCmd(), c.logsCmd())
	return root
}

func (c *cli) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <OPCODE> [key=value ...]",
		Short: "Submit a command to the satellite through the ground authority",
		Example: `  groundctl send PING --key ops-key-5678
  groundctl send SET_MODE mode=SAFE --key admin-key-9012
  groundctl send UPDATE_ORBIT_PARAM param=inclination value=51.6 --key admin-key-9012`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			opcode := strings.ToUpper(strings.TrimSpace(args[0]))
			res, err := c.client.Send(cmd.Context(), opcode, params, c.key)
			if err != nil {
				return fmt.Errorf("send %s: %w", opcode, err)
			}
			fmt.Fprint(cmd.OutOrStdout(), c.format.Result(res))
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the telemetry link state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("link status: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), c.format.Status(st))
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recent command submissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := c.client.History(cmd.Context())
			if err != nil {
				return fmt.Errorf("command history: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), c.format.History(entries))
			return nil
		},
	}
}

func (c *cli) logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Print the tail of the ground journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := c.client.Logs(cmd.Context())
			if err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), c.format.Logs(lines))
			return nil
		},
	}
}

// parseParams turns key=value arguments into command parameters. Values
// that parse as JSON keep their type; anything else is a string.
func parseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", arg)
		}
		params[k] = paramValue(v)
	}
	return params, nil
}

func paramValue(v string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(v)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil || dec.More() {
		return v
	}
	return out
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
