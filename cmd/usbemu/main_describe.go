package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ardnew/usbemu/device"
	"github.com/ardnew/usbemu/device/definition"
	"github.com/ardnew/usbemu/pkg"
	"github.com/ardnew/usbemu/pkg/usbid"
)

type cmdDescribe struct {
	global *cmdGlobal

	flagFormat string
	flagUSBIDs []string
}

func (c *cmdDescribe) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "describe"
	cmd.Short = "Show the interfaces and descriptors of a device"
	cmd.Long = `Description:
  Show the interfaces and descriptors of a device

  Formats:
    table  one row per interface alternate setting
    yaml   the device definition
    hex    each configuration descriptor block as sent to the host`
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run
	cmd.Flags().StringVar(&c.flagFormat, "format", "table", "Output format (table, yaml or hex)"+"``")
	cmd.Flags().StringSliceVar(&c.flagUSBIDs, "usb-ids", nil, "Path to the usb.ids database used to name the vendor and product"+"``")

	return cmd
}

func (c *cmdDescribe) Run(cmd *cobra.Command, args []string) error {
	dev, err := c.global.loadDevice()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch c.flagFormat {
	case "table":
		ids, err := usbid.Load(c.flagUSBIDs...)
		if err != nil {
			pkg.LogDebug(component, "usb.ids not loaded", "error", err)
		}
		renderSummary(out, dev, ids)
		return renderInterfaces(out, dev)
	case "yaml":
		data, err := definition.Marshal(definition.FromDevice(dev))
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	case "hex":
		for _, config := range dev.Configurations() {
			fmt.Fprintf(out, "configuration %d: %s\n", config.Value,
				definition.FormatHex(config.AppendTo(nil, dev.Strings())))
		}
		return nil
	default:
		return fmt.Errorf("Invalid format %q", c.flagFormat)
	}
}

// renderSummary prints the device identity, preferring names from the
// usb.ids database over the device's own strings.
func renderSummary(w io.Writer, dev *device.Device, ids *usbid.Database) {
	desc := dev.Descriptor
	vendor := lo.CoalesceOrEmpty(ids.Vendor(desc.VendorID), dev.Manufacturer.Text)
	product := lo.CoalesceOrEmpty(ids.Product(desc.VendorID, desc.ProductID), dev.Product.Text)
	fmt.Fprintf(w, "%04x:%04x %s %s (%s speed)\n",
		desc.VendorID, desc.ProductID, vendor, product, dev.Speed().Name())
}

func renderInterfaces(w io.Writer, dev *device.Device) error {
	data := [][]string{}
	for _, config := range dev.Configurations() {
		for _, iface := range config.Interfaces() {
			endpoints := lo.Map(iface.Endpoints(), func(ep *device.Endpoint, _ int) string {
				return fmt.Sprintf("0x%02X %s", ep.Address, device.TransferTypeName(ep.TransferType()))
			})
			descriptors := lo.Map(iface.RequestableDescriptors(), func(d *device.Descriptor, _ int) string {
				return d.ID().String()
			})

			data = append(data, []string{
				fmt.Sprintf("%d", config.Value),
				iface.Identifier().String(),
				fmt.Sprintf("0x%02X/0x%02X/0x%02X", iface.Class, iface.SubClass, iface.Protocol),
				iface.InterfaceString.Text,
				strings.Join(endpoints, "\n"),
				strings.Join(descriptors, "\n"),
			})
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetRowLine(true)
	table.SetHeader([]string{
		"CONFIG",
		"INTERFACE",
		"CLASS",
		"STRING",
		"ENDPOINTS",
		"DESCRIPTORS"})
	table.AppendBulk(data)
	table.Render()

	return nil
}
