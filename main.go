package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/deimic-pi/cmd"
	"github.com/anicoll/deimic-pi/internal/pkg/config"
)

func main() {
	app := &cli.App{
		Name:  "deimic-pi",
		Usage: "message bridge between a Deimic installation and its peripherals",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"DEIMICPI_CONFIG"},
				Value:   config.DefaultPath(),
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
			&cli.StringFlag{
				Name:    "bridge-addr-form",
				EnvVars: []string{"BRIDGE_ADDR_FORM"},
				Usage:   "address template for roles connecting to the bridge, with a {port} placeholder",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "bridge",
				Usage:  "run the bridge",
				Action: cmd.BridgeCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "http-addr",
						EnvVars: []string{"HTTP_ADDR"},
						Usage:   "listen address for /metrics, /state, /requests and /ws; empty disables",
					},
					&cli.StringFlag{
						Name:    "mqtt-host",
						EnvVars: []string{"MQTT_HOST"},
						Value:   "",
					},
					&cli.StringFlag{
						Name:    "mqtt-user",
						EnvVars: []string{"MQTT_USER"},
						Value:   "",
					},
					&cli.StringFlag{
						Name:    "mqtt-pass",
						EnvVars: []string{"MQTT_PASS"},
						Value:   "",
					},
					&cli.StringFlag{
						Name:    "mqtt-prefix",
						EnvVars: []string{"MQTT_PREFIX"},
					},
				},
			},
			{
				Name:   "led-driver",
				Usage:  "run the LED strip driver",
				Action: cmd.LedDriverCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "strip-length",
						EnvVars: []string{"STRIP_LENGTH"},
					},
				},
			},
			{
				Name:   "monitor",
				Usage:  "print every state update broadcast by the bridge",
				Action: cmd.MonitorCommand,
			},
			{
				Name:  "request",
				Usage: "send a request to the bridge",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "request-timeout",
						EnvVars: []string{"REQUEST_TIMEOUT"},
					},
				},
				Subcommands: []*cli.Command{
					{
						Name:   "state",
						Usage:  "print the bridge's component states and connected peers",
						Action: cmd.StateCommand,
					},
					{
						Name:      "command",
						Usage:     "forward command frames to the roles matching --target",
						ArgsUsage: "FRAME...",
						Action:    cmd.CommandCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "target",
								Usage:    "signature as a number (1 - 127) or role names joined by |",
								Required: true,
							},
						},
					},
					{
						Name:      "record",
						Usage:     "record a JSON payload in the bridge's request journal",
						ArgsUsage: "JSON",
						Action:    cmd.RecordCommand,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
