package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbemu/device"
	"github.com/ardnew/usbemu/device/definition"
	"github.com/ardnew/usbemu/pkg"
)

const component pkg.Component = "usbemu"

type cmdGlobal struct {
	flagDebug      bool
	flagLogFormat  string
	flagLogFile    string
	flagDefinition string
	flagPreset     string

	logFile io.Closer
}

func main() {
	app := newApp()
	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newApp() *cobra.Command {
	globalCmd := cmdGlobal{}

	app := &cobra.Command{}
	app.Use = "usbemu"
	app.Short = "Inspect and exercise emulated USB devices"
	app.Long = `Description:
  Inspect and exercise emulated USB devices

  Devices are described in YAML (--definition) or taken from a
  built-in preset (--preset keyboard|mouse).`
	app.SilenceUsage = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}
	app.PersistentPreRunE = globalCmd.PreRun
	app.PersistentPostRunE = globalCmd.PostRun

	// Global flags
	app.PersistentFlags().BoolVarP(&globalCmd.flagDebug, "debug", "d", false, "Show debug messages")
	app.PersistentFlags().StringVar(&globalCmd.flagLogFormat, "log-format", "text", "Log format (text or json)"+"``")
	app.PersistentFlags().StringVar(&globalCmd.flagLogFile, "log-file", "", "Write logs to a rotated file instead of stderr"+"``")
	app.PersistentFlags().StringVarP(&globalCmd.flagDefinition, "definition", "f", "", "Device definition file (YAML)"+"``")
	app.PersistentFlags().StringVarP(&globalCmd.flagPreset, "preset", "p", "keyboard", "Built-in device when no definition is given"+"``")

	// describe sub-command
	describeCmd := cmdDescribe{global: &globalCmd}
	app.AddCommand(describeCmd.Command())

	// request sub-command
	requestCmd := cmdRequest{global: &globalCmd}
	app.AddCommand(requestCmd.Command())

	// parse sub-command
	parseCmd := cmdParse{global: &globalCmd}
	app.AddCommand(parseCmd.Command())

	return app
}

// PreRun configures logging.
func (c *cmdGlobal) PreRun(cmd *cobra.Command, args []string) error {
	var format pkg.LogFormat
	switch strings.ToLower(c.flagLogFormat) {
	case "text":
		format = pkg.LogFormatText
	case "json":
		format = pkg.LogFormatJSON
	default:
		return fmt.Errorf("Unknown log format %q", c.flagLogFormat)
	}

	var w io.Writer = cmd.ErrOrStderr()
	if c.flagLogFile != "" {
		rotating := pkg.NewRotatingWriter(pkg.RotatingLogConfig{Path: c.flagLogFile})
		c.logFile = rotating
		w = rotating
	}
	pkg.SetLogFormat(w, format)

	if c.flagDebug {
		pkg.SetLogLevel(slog.LevelDebug)
	} else {
		pkg.SetLogLevel(slog.LevelWarn)
	}
	return nil
}

// PostRun releases the log file.
func (c *cmdGlobal) PostRun(cmd *cobra.Command, args []string) error {
	if c.logFile == nil {
		return nil
	}
	err := c.logFile.Close()
	c.logFile = nil
	return err
}

// loadDevice builds the device named by the global flags.
func (c *cmdGlobal) loadDevice() (*device.Device, error) {
	if c.flagDefinition != "" {
		def, err := definition.LoadFile(c.flagDefinition)
		if err != nil {
			return nil, fmt.Errorf("Failed loading definition %q: %w", c.flagDefinition, err)
		}
		return def.Build()
	}

	build, ok := presets[strings.ToLower(c.flagPreset)]
	if !ok {
		return nil, fmt.Errorf("Unknown preset %q", c.flagPreset)
	}
	pkg.LogDebug(component, "using preset", "preset", c.flagPreset)
	return build()
}
