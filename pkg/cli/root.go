package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/platinummonkey/leadflow/pkg/config"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
	out         io.Writer
}

// environment carries what subcommands write to and how they load config
type environment struct {
	out    io.Writer
	logOut io.Writer
	load   func(path string) (*config.Config, error)
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	return newRootCommand(&environment{
		out:    os.Stdout,
		logOut: os.Stderr,
		load:   config.Load,
	})
}

func newRootCommand(env *environment) *Command {
	root := &Command{
		Name:        "leadflow",
		Description: "Leadflow - lead to customer conversion service",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("leadflow", flag.ContinueOnError),
		out:         env.out,
	}

	root.Subcommands["serve"] = newServeCommand(env)
	root.Subcommands["convert"] = newConvertCommand(env)
	root.Subcommands["orphans"] = newOrphansCommand(env)

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(c.out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// addConfigFlag registers the -config flag shared by every subcommand
func addConfigFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Path to a YAML config file (defaults to $"+config.FileEnv+")")
}

// configPath falls back to the environment when -config is not given
func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(config.FileEnv)
}
