package cli

import (
	"flag"
	"fmt"
	"os"
	"sort"
)

// Command is a single ssoctl subcommand. Run receives the arguments after
// the command name and parses its own flag set.
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand builds the ssoctl command tree.
func NewRootCommand() *Command {
	root := &Command{
		Name:        "ssoctl",
		Description: "ssoctl - SSO Broker Operator CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("ssoctl", flag.ExitOnError),
	}

	for _, cmd := range []*Command{
		newImportCommand(),
		newImportAliasesCommand(),
		newExportCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute dispatches os.Args to the matching subcommand.
func (c *Command) Execute() error {
	args := os.Args[1:]
	if len(args) == 0 {
		return c.usage()
	}

	switch args[0] {
	case "-h", "--help":
		return c.usage()
	case "help":
		if len(args) == 1 {
			return c.usage()
		}
		sub, ok := c.Subcommands[args[1]]
		if !ok {
			return fmt.Errorf("unknown command: %s", args[1])
		}
		fmt.Printf("Usage: %s %s [flags]\n\n%s\n\nFlags:\n", c.Name, sub.Name, sub.Description)
		sub.Flags.SetOutput(os.Stdout)
		sub.Flags.PrintDefaults()
		return nil
	}

	if sub, ok := c.Subcommands[args[0]]; ok {
		return sub.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage lists the subcommands in stable order.
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Usage: %s <command> [flags]\n\nCommands:\n", c.Name)
	for _, name := range names {
		fmt.Printf("  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	fmt.Printf("\nRun '%s help <command>' for command flags.\n", c.Name)
	return nil
}
