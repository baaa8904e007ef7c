// Copyright 2026 The Soulvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command soulctl is the client for soulvisord.  It uses subcommands.
//
// The global flags are
//
//	-a <address>	- the server, default is http://127.0.0.1:8321
//	-u <user:pass>	- user name & password for basic auth
//
// Running soulctl without a subcommand starts the terminal UI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soulvisor/soulvisor/rest"
)

const (
	defaultAddr    = "http://127.0.0.1:8321"
	requestTimeout = 30 * time.Second
	syncTimeout    = 10 * time.Minute
)

type cli struct {
	addr   string
	auth   string
	client *rest.Client
}

func (c *cli) connect() error {
	c.client = rest.NewClient(nil, strings.TrimRight(c.addr, "/"))
	if c.auth != "" {
		user, pass, ok := strings.Cut(c.auth, ":")
		if !ok {
			return errors.New("bad user:pass supplied")
		}
		c.client.SetAuth(user, pass)
	}
	return nil
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func newRootCmd() *cobra.Command {
	c := &cli{addr: defaultAddr}
	if env := os.Getenv("SOULCTL_ADDR"); env != "" {
		c.addr = env
	}
	cmd := &cobra.Command{
		Use:   "soulctl",
		Short: "Control a soulvisord server",
		Long: `soulctl manages the projects of a soulvisord server: their records,
their synchronization from GitHub, and their processes.

Without a subcommand it starts an interactive terminal UI.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.connect()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return doUI(c.client, c.addr)
		},
	}
	cmd.PersistentFlags().StringVarP(&c.addr, "addr", "a", c.addr, "soulvisord address")
	cmd.PersistentFlags().StringVarP(&c.auth, "user", "u", "", "user:pass authentication")

	cmd.AddCommand(
		c.projectsCmd(),
		c.createCmd(),
		c.deleteCmd(),
		c.showCmd(),
		c.setCmd(),
		c.unsetEnvCmd(),
		c.syncCmd(),
		c.startCmd(),
		c.killCmd(),
		c.restartCmd(),
		c.processesCmd(),
		c.uptimeCmd(),
		c.logsCmd(),
		c.uiCmd(),
		hashPasswordCmd(),
	)
	return cmd
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Failed: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
