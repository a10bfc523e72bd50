package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mklimuk/station/adapter"
	"github.com/mklimuk/station/cmd/station/console"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "inspect the MCP2221 USB bridge",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221DetectCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name: "status",
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221()
		status, err := a.Status(commandContext(c))
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return encode(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name: "release",
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221()
		status, err := a.ReleaseBus(commandContext(c))
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return encode(status)
	},
}

var mcp2221DetectCmd = cli.Command{
	Name: "detect",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "all", Usage: "list every HID device, not only MCP2221 bridges"},
	},
	Action: func(c *cli.Context) error {
		devices := adapter.Detect(c.Bool("all"))
		if len(devices) == 0 {
			console.Warnf("no devices found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VENDOR\tPRODUCT\tNAME\tSERIAL\tPATH")
		for _, d := range devices {
			fmt.Fprintf(w, "%#04x\t%#04x\t%s\t%s\t%s\n", d.VendorID, d.ProductID, d.Product, d.Serial, d.Path)
		}
		return w.Flush()
	},
}

func encode(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	if err := enc.Encode(v); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}
