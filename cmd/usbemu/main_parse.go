package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ardnew/usbemu/device"
	"github.com/ardnew/usbemu/device/definition"
)

type cmdParse struct {
	global *cmdGlobal

	flagYAML bool
}

func (c *cmdParse) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "parse <descriptor>"
	cmd.Short = "Decode an interface descriptor"
	cmd.Long = `Description:
  Decode an interface descriptor

  The argument is the descriptor in hex. Only the first 9 bytes are read;
  bLength and bDescriptorType are not checked.`
	cmd.Example = `  usbemu parse "09 04 00 00 01 03 01 01 00"`
	cmd.Args = cobra.ExactArgs(1)
	cmd.RunE = c.Run
	cmd.Flags().BoolVar(&c.flagYAML, "yaml", false, "Print as a definition fragment")

	return cmd
}

func (c *cmdParse) Run(cmd *cobra.Command, args []string) error {
	raw, err := definition.ParseHex(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if c.flagYAML {
		iface, err := device.ParseInterface(raw, nil)
		if err != nil {
			return err
		}

		data, err := definition.Marshal(&definition.Definition{
			Device: definition.DeviceDef{
				Configurations: []definition.ConfigurationDef{{
					Value:      1,
					Interfaces: []definition.InterfaceDef{definition.FromInterface(iface, nil)},
				}},
			},
		})
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	var header device.InterfaceDescriptor
	err = device.ParseInterfaceDescriptor(raw, &header)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"FIELD", "VALUE"})
	table.AppendBulk([][]string{
		{"bInterfaceNumber", fmt.Sprintf("%d", header.InterfaceNumber)},
		{"bAlternateSetting", fmt.Sprintf("%d", header.AlternateSetting)},
		{"bNumEndpoints", fmt.Sprintf("%d", header.NumEndpoints)},
		{"bInterfaceClass", fmt.Sprintf("0x%02X", header.InterfaceClass)},
		{"bInterfaceSubClass", fmt.Sprintf("0x%02X", header.InterfaceSubClass)},
		{"bInterfaceProtocol", fmt.Sprintf("0x%02X", header.InterfaceProtocol)},
		{"iInterface", fmt.Sprintf("%d", header.InterfaceIndex)},
	})
	table.Render()

	return nil
}
