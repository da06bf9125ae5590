package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"node.town/murmur/mic"
	"node.town/murmur/mic/portaudio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices in a table",
	Run:   runDevices,
}

func runDevices(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	logs := createLoggers(cfg.Log.Level)

	devices, err := portaudio.NewDevice(logs.mic).Devices(context.Background())
	if err != nil {
		logs.main.Fatal("list devices", "error", err.Error())
	}

	if len(devices) == 0 {
		fmt.Println("No input devices found.")
		return
	}

	renderDevices(os.Stdout, devices)
}

func renderDevices(w io.Writer, devices []mic.DeviceInfo) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Kind", "Label", "Default"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		table.Append([]string{d.DeviceID, d.Kind, d.Label, def})
	}

	table.Render()
}
