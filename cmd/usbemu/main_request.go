package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ardnew/usbemu/device"
	"github.com/ardnew/usbemu/device/definition"
	"github.com/ardnew/usbemu/pkg"
)

type cmdRequest struct {
	global *cmdGlobal

	flagConfiguration uint8
	flagAddress       uint8
	flagStrict        bool
}

func (c *cmdRequest) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "request <setup>..."
	cmd.Short = "Send control requests to a device"
	cmd.Long = `Description:
  Send control requests to a device

  Each argument is an 8-byte SETUP packet in hex. Requests run in order
  against the same device, after it has been addressed and configured.`
	cmd.Example = `  usbemu request 8106002200000001
  usbemu request 010b010000000000 810a000000000100
  usbemu request --strict 8106002200000001`
	cmd.Args = cobra.MinimumNArgs(1)
	cmd.RunE = c.Run
	cmd.Flags().Uint8Var(&c.flagConfiguration, "configuration", 1, "Configuration to select first, 0 to leave unconfigured"+"``")
	cmd.Flags().Uint8Var(&c.flagAddress, "address", 1, "Device address to assign"+"``")
	cmd.Flags().BoolVar(&c.flagStrict, "strict", false, "Fail when a request is not acknowledged")

	return cmd
}

func (c *cmdRequest) Run(cmd *cobra.Command, args []string) error {
	setups := make([]device.SetupPacket, 0, len(args))
	for _, arg := range args {
		raw, err := definition.ParseHex(arg)
		if err != nil {
			return err
		}
		var setup device.SetupPacket
		err = device.ParseSetupPacket(raw, &setup)
		if err != nil {
			return fmt.Errorf("Invalid setup packet %q: %w", arg, err)
		}
		setups = append(setups, setup)
	}

	dev, err := c.global.loadDevice()
	if err != nil {
		return err
	}

	dev.Reset()
	err = dev.SetAddress(c.flagAddress)
	if err != nil {
		return err
	}
	if c.flagConfiguration != 0 {
		err = dev.SetConfiguration(c.flagConfiguration)
		if err != nil {
			return fmt.Errorf("Failed selecting configuration %d: %w", c.flagConfiguration, err)
		}
	}

	data := make([][]string, 0, len(setups))
	for _, setup := range setups {
		rec := &device.ResponseRecorder{}
		req := device.NewControlRequest(setup, nil, rec)
		dev.HandleSetup(req)

		pkg.LogDebug(component, "request answered",
			"request", setup.String(),
			"status", req.Status().String())

		data = append(data, []string{
			setup.String(),
			req.Status().String(),
			definition.FormatHex(rec.Data),
		})

		if c.flagStrict {
			err = req.Status().Error()
			if err != nil {
				return fmt.Errorf("Request %s failed: %w", setup.String(), err)
			}
		}
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"REQUEST", "STATUS", "DATA"})
	table.AppendBulk(data)
	table.Render()

	return nil
}
