package main

import (
	"context"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/isqad/livelook-classroom/internal/config"
	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/relay"
)

func main() {
	app := &cli.App{
		Name:        "livelook-relay",
		Usage:       "Signaling relay for live sessions",
		Description: "Keeps session rosters and forwards negotiation messages. Never touches media.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "env",
				Usage:    "environment: either 'development' or 'production'",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a yaml config file",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, overrides relay.address",
			},
			&cli.BoolFlag{
				Name:  "redis",
				Usage: "also serve clients over redis pub/sub at signaling.redis_addr",
			},
			&cli.BoolFlag{
				Name:  "nats",
				Usage: "also serve clients over nats at signaling.nats_url",
			},
		},
		Action: startRelay,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startRelay(c *cli.Context) error {
	env, err := core.ParseEnvironment(c.String("env"))
	if err != nil {
		return err
	}
	core.InitLogger(env)

	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if address := c.String("address"); address != "" {
		conf.Relay.Address = address
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := relay.HubOptions{
		MaxParticipants: conf.Relay.MaxParticipants,
		OfflineGrace:    conf.Relay.OfflineGrace,
	}

	if conf.Relay.DatabaseURL != "" {
		db, err := relay.OpenDB(conf.Relay.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		repo := relay.NewAuditRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		audit := relay.NewAuditLog(repo)
		go audit.Run(ctx)

		opts.Audit = audit
	}

	hub := relay.NewHub(opts)

	if c.Bool("redis") {
		rdb := redis.NewClient(&redis.Options{Addr: conf.Signaling.RedisAddr})
		defer rdb.Close()

		go func() {
			if err := relay.NewRedisBridge(hub, rdb).Run(ctx); err != nil {
				log.Error().Err(err).Str("service", "redis").Msg("bridge stopped")
			}
		}()
	}

	if c.Bool("nats") {
		nc, err := nats.Connect(conf.Signaling.NATSURL, nats.Name("livelook-relay"))
		if err != nil {
			return err
		}
		defer nc.Close()

		go func() {
			if err := relay.NewNATSBridge(hub, nc).Run(ctx); err != nil {
				log.Error().Err(err).Str("service", "nats").Msg("bridge stopped")
			}
		}()
	}

	app := relay.NewApp(relay.AppOptions{
		Env:            env,
		Address:        conf.Relay.Address,
		MaxMessageSize: conf.Relay.MaxMessageSize,
		Hub:            hub,
	})

	return app.Start()
}
