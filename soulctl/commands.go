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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/soulvisor/soulvisor"
	"github.com/soulvisor/soulvisor/rest"
	"github.com/soulvisor/soulvisor/soulctl/util"
)

func (c *cli) projectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			projects, err := c.client.Projects(ctx)
			if err != nil {
				return err
			}
			for _, p := range projects {
				cmd.Println(p.Name)
			}
			return nil
		},
	}
}

func (c *cli) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			if _, err := c.client.CreateProject(ctx, args[0]); err != nil {
				return err
			}
			cmd.Printf("Created project %s.\n", args[0])
			return nil
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a project, its process and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			if err := c.client.DeleteProject(ctx, args[0]); err != nil {
				if errors.Is(err, soulvisor.ErrNotFound) {
					return fmt.Errorf("project %s not found", args[0])
				}
				return err
			}
			cmd.Printf("Deleted project %s.\n", args[0])
			return nil
		},
	}
}

func printProject(cmd *cobra.Command, p *soulvisor.Project) {
	env, _ := json.Marshal(p.Env)
	cmd.Printf("Project %s\n", p.Name)
	cmd.Printf("Github Link (github): %s\n", p.Link)
	cmd.Printf("Auto Start (auto):    %v\n", p.AutoStart)
	cmd.Printf("Command (command):    %s\n", p.Command)
	cmd.Printf("Args (args):          %s\n", strings.Join(p.Args, " "))
	cmd.Printf("Environment (env):    %s\n", env)
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			p, err := c.client.Project(ctx, args[0])
			if err != nil {
				return err
			}
			printProject(cmd, p)
			return nil
		},
	}
}

// parsePatch turns "set" arguments (option, values...) into a patch, and
// a sentence describing it.
func parsePatch(name string, option string, values []string) (*rest.ProjectPatch, string, error) {
	patch := &rest.ProjectPatch{}
	switch option {
	case "github":
		if len(values) != 1 {
			return nil, "", errors.New("usage: set <name> github <url>")
		}
		patch.Link = &values[0]
		return patch, fmt.Sprintf("Set github link for project %s to %s.", name, values[0]), nil
	case "auto":
		if len(values) != 1 {
			return nil, "", errors.New("usage: set <name> auto <true|false>")
		}
		v, err := strconv.ParseBool(values[0])
		if err != nil {
			return nil, "", errors.New("please provide a valid value (true/false)")
		}
		patch.AutoStart = &v
		return patch, fmt.Sprintf("Set auto start for project %s to %v.", name, v), nil
	case "command":
		if len(values) != 1 {
			return nil, "", errors.New("usage: set <name> command <command>")
		}
		patch.Command = &values[0]
		return patch, fmt.Sprintf("Set command for project %s to %s.", name, values[0]), nil
	case "args":
		args := append([]string{}, values...)
		patch.Args = &args
		return patch, fmt.Sprintf("Set args for project %s to %s.", name, strings.Join(args, " ")), nil
	case "env":
		if len(values) != 2 {
			return nil, "", errors.New("usage: set <name> env <key> <value>")
		}
		patch.Env = map[string]string{values[0]: values[1]}
		return patch, fmt.Sprintf("Set env variable %s for project %s to %s.", values[0], name, values[1]), nil
	}
	return nil, "", fmt.Errorf("unknown option %q (github, auto, command, args, env)", option)
}

func (c *cli) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <github|auto|command|args|env> <value>...",
		Short: "Change a project setting",
		Long: `Change one setting of a project:

  set <name> github <url>
  set <name> auto <true|false>
  set <name> command <command>
  set <name> args [<arg>...]
  set <name> env <key> <value>`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, msg, err := parsePatch(args[0], args[1], args[2:])
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			if _, err := c.client.PatchProject(ctx, args[0], patch); err != nil {
				return err
			}
			cmd.Println(msg)
			return nil
		},
	}
}

func (c *cli) unsetEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset-env <name> <key>...",
		Short: "Remove environment variables from a project",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			patch := &rest.ProjectPatch{EnvUnset: args[1:]}
			if _, err := c.client.PatchProject(ctx, args[0], patch); err != nil {
				return err
			}
			cmd.Printf("Removed %s from project %s.\n", strings.Join(args[1:], ", "), args[0])
			return nil
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "sync <name>",
		Short: "Fetch a project from GitHub and read its .soul file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
			defer cancel()
			id, err := c.client.Sync(ctx, args[0])
			if err != nil {
				return err
			}
			if !wait {
				cmd.Printf("Sync started: %s\n", id)
				return nil
			}
			cmd.Println("Syncing...")
			st, err := c.client.WaitSync(ctx, id, 250*time.Millisecond)
			if err != nil {
				return err
			}
			cmd.Println("Syncing finished.")
			cmd.Println("Errors:")
			if len(st.Messages) == 0 {
				cmd.Println("- None")
			}
			for _, m := range st.Messages {
				cmd.Printf("- %s\n", m)
			}
			if st.Failure != "" {
				return errors.New(st.Failure)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", true, "wait for the sync to finish")
	return cmd
}

func (c *cli) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start a project's command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			info, err := c.client.Start(ctx, args[0])
			if err != nil {
				if errors.Is(err, soulvisor.ErrAlreadyRunning) {
					return fmt.Errorf("project %s is already running", args[0])
				}
				return err
			}
			cmd.Printf("Started project %s (pid %d).\n", args[0], info.Pid)
			return nil
		},
	}
}

func (c *cli) killCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <name>",
		Short: "Stop a project's process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			if err := c.client.Kill(ctx, args[0]); err != nil {
				return err
			}
			cmd.Printf("Killed project %s.\n", args[0])
			return nil
		},
	}
}

func (c *cli) restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Restart a project's process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			info, err := c.client.Restart(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Restarted project %s (pid %d).\n", args[0], info.Pid)
			return nil
		},
	}
}

func (c *cli) processesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "processes",
		Short: "List processes and their uptime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			list, err := c.client.Processes(ctx)
			if err != nil {
				return err
			}
			util.SortProcesses(list.Processes)
			for _, p := range list.Processes {
				line := p.Name + " - " + util.FormatUptime(util.Uptime(p))
				if p.State == soulvisor.StateExited {
					line += " (exited: " + p.Reason + ")"
				}
				cmd.Println(line)
			}
			return nil
		},
	}
}

func (c *cli) uptimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uptime",
		Short: "Show how long the server has been up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			list, err := c.client.Processes(ctx)
			if err != nil {
				return err
			}
			for _, p := range list.Processes {
				if p.Self {
					cmd.Println(util.FormatUptime(util.Uptime(p)))
					return nil
				}
			}
			return errors.New("server did not report itself")
		},
	}
}

func printRecords(cmd *cobra.Command, recs []soulvisor.LogRecord, after int64) int64 {
	for _, r := range recs {
		if r.Id <= after {
			continue
		}
		cmd.Printf("%s %s %s\n", r.Time.Format(time.StampMilli), r.Stream, r.Text)
		after = r.Id
	}
	return after
}

func (c *cli) logsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Show the recent output of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			info, err := c.client.GetLog(ctx, args[0])
			cancel()
			if err != nil {
				return err
			}
			last := printRecords(cmd, info.Records, 0)
			for follow {
				info, err = c.client.WatchLog(cmd.Context(), args[0], info)
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				last = printRecords(cmd, info.Records, last)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new output")
	return cmd
}

func (c *cli) uiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Start the terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doUI(c.client, c.addr)
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for server.auth_hash",
		Long: `Print a bcrypt hash suitable for the server.auth_hash setting.  The
password is read from the first line of standard input when it is not
given as an argument.`,
		Args: cobra.MaximumNArgs(1),
		// No server is involved.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			var pass string
			if len(args) == 1 {
				pass = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no password given")
				}
				pass = strings.TrimRight(line, "\r\n")
			}
			if pass == "" {
				return errors.New("empty password")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(pass), cost)
			if err != nil {
				return err
			}
			cmd.Println(string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
