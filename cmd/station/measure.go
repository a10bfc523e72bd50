package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mklimuk/station/cmd/station/console"
	"github.com/mklimuk/station/environment"
	"github.com/mklimuk/station/packet"
	"github.com/urfave/cli/v2"
)

var measureCmd = cli.Command{
	Name:    "measure",
	Aliases: []string{"m"},
	Usage:   "read temperature and humidity from the HDC1080",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "samples",
			Aliases: []string{"n"},
			Usage:   "average over n measurements (defaults to the configured count)",
		},
		&cli.BoolFlag{
			Name:  "frame",
			Usage: "print the downstream frame bytes",
		},
		&cli.BoolFlag{
			Name:  "init",
			Value: true,
			Usage: "write the configuration register first",
		},
	},
	Action: func(c *cli.Context) error {
		cfg := stationConfig(c)
		ctx, sensor, release, err := openSensor(commandContext(c), cfg)
		if err != nil {
			return console.Exit(1, "could not open sensor: %s", console.Red(err))
		}
		defer release()
		if c.Bool("init") {
			if err := sensor.Initialize(ctx); err != nil {
				return console.Exit(1, "sensor initialization error: %s", console.Red(err))
			}
		}
		n := cfg.Samples
		if c.IsSet("samples") {
			n = c.Int("samples")
		}
		r, err := sensor.MeasureAverage(ctx, n)
		if err != nil {
			return console.Exit(1, "error getting measurement: %s", console.Red(err))
		}
		console.Reading(r.Temperature, r.Humidity)
		if c.Bool("frame") {
			low, err := sensor.BatteryLow(ctx)
			if err != nil {
				return console.Exit(1, "could not read battery status: %s", console.Red(err))
			}
			data, err := packet.FromReading(r, packet.BatteryLevel(low), cfg.Station.ID).MarshalBinary()
			if err != nil {
				return console.Exit(1, "frame encoding error: %s", console.Red(err))
			}
			console.PInfof(console.PictoPin, "%s", hex.EncodeToString(data))
		}
		return nil
	},
}

var infoCmd = cli.Command{
	Name:  "info",
	Usage: "print HDC1080 identification and status",
	Action: func(c *cli.Context) error {
		ctx, sensor, release, err := openSensor(commandContext(c), stationConfig(c))
		if err != nil {
			return console.Exit(1, "could not open sensor: %s", console.Red(err))
		}
		defer release()
		manufacturer, err := sensor.ManufacturerID(ctx)
		if err != nil {
			return console.Exit(1, "could not read manufacturer id: %s", console.Red(err))
		}
		device, err := sensor.DeviceID(ctx)
		if err != nil {
			return console.Exit(1, "could not read device id: %s", console.Red(err))
		}
		serial, err := sensor.SerialNumber(ctx)
		if err != nil {
			return console.Exit(1, "could not read serial number: %s", console.Red(err))
		}
		cfgReg, err := sensor.ReadConfig(ctx)
		if err != nil {
			return console.Exit(1, "could not read configuration: %s", console.Red(err))
		}
		low, err := sensor.BatteryLow(ctx)
		if err != nil {
			return console.Exit(1, "could not read battery status: %s", console.Red(err))
		}
		console.PInfof(console.PictoKey, "manufacturer %s device %s serial %s",
			console.White(fmt.Sprintf("%#04x", manufacturer)),
			console.White(fmt.Sprintf("%#04x", device)),
			console.White(fmt.Sprintf("%#011x", serial)))
		if manufacturer != environment.HDC1080ManufacturerID || device != environment.HDC1080DeviceID {
			console.Warnf("unexpected identification, is this an HDC1080?")
		}
		console.Infof("configuration register %s", console.White(fmt.Sprintf("%#04x", cfgReg)))
		battery := console.Green("ok")
		if low {
			battery = console.Red("low")
		}
		console.PInfof(console.PictoBattery, "supply %s", battery)
		return nil
	},
}

var heaterCmd = cli.Command{
	Name:      "heater",
	Usage:     "switch the HDC1080 heater",
	ArgsUsage: "on|off",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		var on bool
		switch c.Args().Get(0) {
		case "on":
			on = true
		case "off":
		default:
			return console.Exit(1, "expected on or off, got %s", c.Args().Get(0))
		}
		ctx, sensor, release, err := openSensor(commandContext(c), stationConfig(c))
		if err != nil {
			return console.Exit(1, "could not open sensor: %s", console.Red(err))
		}
		defer release()
		if err := sensor.SetHeater(ctx, on); err != nil {
			return console.Exit(1, "could not switch heater: %s", console.Red(err))
		}
		console.Infof("heater %s", console.Bold(c.Args().Get(0)))
		return nil
	},
}

var decodeCmd = cli.Command{
	Name:      "decode",
	Usage:     "decode a station frame given as hex",
	ArgsUsage: "frame",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return console.Exit(1, "expected a frame argument")
		}
		f, err := decodeFrame(strings.Join(c.Args().Slice(), ""))
		if err != nil {
			return console.Exit(1, "invalid frame: %s", console.Red(err))
		}
		console.Reading(f.Temperature, f.Humidity)
		if f.HasBattery {
			console.PInfof(console.PictoBattery, "%s", console.White(f.Battery))
		}
		if f.HasStation {
			console.PInfof(console.PictoKey, "station %s", console.White(f.StationID))
		}
		return nil
	},
}

// decodeFrame parses a hex dump as printed by measure --frame. Spaces and a
// 0x prefix are ignored.
func decodeFrame(s string) (packet.Frame, error) {
	s = strings.TrimPrefix(strings.ReplaceAll(s, " ", ""), "0x")
	data, err := hex.DecodeString(s)
	if err != nil {
		return packet.Frame{}, err
	}
	var f packet.Frame
	if err := f.UnmarshalBinary(data); err != nil {
		return packet.Frame{}, err
	}
	return f, nil
}

var resolutions = map[string]environment.Resolution{
	"14": environment.Resolution14Bit,
	"11": environment.Resolution11Bit,
	"8":  environment.Resolution8Bit,
}

var configureCmd = cli.Command{
	Name:  "configure",
	Usage: "reset the HDC1080 and set its resolution",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "temp-resolution", Value: "14"},
		&cli.StringFlag{Name: "hum-resolution", Value: "14"},
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		temp, ok := resolutions[c.String("temp-resolution")]
		if !ok {
			return console.Exit(1, "unsupported temperature resolution %s", c.String("temp-resolution"))
		}
		hum, ok := resolutions[c.String("hum-resolution")]
		if !ok {
			return console.Exit(1, "unsupported humidity resolution %s", c.String("hum-resolution"))
		}
		if !c.Bool("yes") {
			answer, err := console.YesOrNo(fmt.Sprintf("reset sensor and set %s/%s resolution?", temp, hum))
			if err != nil {
				return console.Exit(1, "prompt error: %s", console.Red(err))
			}
			if answer != console.Yes {
				console.PInfof(console.PictoStop, "aborted")
				return nil
			}
		}
		ctx, sensor, release, err := openSensor(commandContext(c), stationConfig(c))
		if err != nil {
			return console.Exit(1, "could not open sensor: %s", console.Red(err))
		}
		defer release()
		if err := sensor.Reset(ctx); err != nil {
			return console.Exit(1, "could not reset sensor: %s", console.Red(err))
		}
		if err := sensor.Initialize(ctx); err != nil {
			return console.Exit(1, "sensor initialization error: %s", console.Red(err))
		}
		if err := sensor.SetResolution(ctx, temp, hum); err != nil {
			return console.Exit(1, "could not set resolution: %s", console.Red(err))
		}
		console.Infof("sensor configured")
		return nil
	},
}
