package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/isqad/livelook-classroom/internal/config"
	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/pkg/livesession"
)

func main() {
	app := &cli.App{
		Name:        "livelook-client",
		Usage:       "Headless live session participant",
		Description: "Joins a session with IVF files as camera and screen and reads commands from stdin.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
				Value: string(core.DevelopmentEnv),
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a yaml config file",
			},
			&cli.StringFlag{
				Name:     "session",
				Usage:    "id of the session to join",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "id",
				Usage:    "participant id",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "display name",
			},
			&cli.StringFlag{
				Name:  "role",
				Usage: "either 'host' or 'attendee'",
				Value: string(core.RoleAttendee),
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "websocket url of the relay, overrides signaling.url",
			},
			&cli.StringFlag{
				Name:  "video",
				Usage: "IVF file played as the camera",
			},
			&cli.StringFlag{
				Name:  "screen",
				Usage: "IVF file played once as the screen share",
			},
		},
		Action: startClient,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startClient(c *cli.Context) error {
	env, err := core.ParseEnvironment(c.String("env"))
	if err != nil {
		return err
	}
	core.InitLogger(env)

	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if url := c.String("url"); url != "" {
		conf.Signaling.URL = url
	}
	if video := c.String("video"); video != "" {
		conf.Media.VideoFile = video
	}
	if screen := c.String("screen"); screen != "" {
		conf.Media.ScreenFile = screen
	}

	name := c.String("name")
	if name == "" {
		name = c.String("id")
	}
	identity := core.Identity{
		ID:   core.ParticipantID(c.String("id")),
		Name: name,
		Role: core.Role(c.String("role")),
	}

	s, err := livesession.New(livesession.Options{Config: conf, Identity: identity})
	if err != nil {
		return err
	}

	cl := newClient(s)
	return cl.Run(core.SessionID(c.String("session")), os.Stdin)
}
