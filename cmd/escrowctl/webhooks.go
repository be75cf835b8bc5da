package main

import (
	"fmt"
	"net/http"

	"github.com/urfave/cli/v2"
)

var webhooks = cli.Command{
	Name:  "webhooks",
	Usage: "manage the webhooks notified of trade events",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "add a webhook for a trade event",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "event",
					Usage: "the event to notify: TRADE_PHASE_CHANGED, TRADE_FAILED, TRADE_COMPLETED or * for any",
					Value: "*",
				},
				&cli.StringFlag{
					Name:     "endpoint",
					Usage:    "the url notified with a POST request",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "secret",
					Usage: "the secret used to sign the bearer token of the requests",
				},
			},
			Action: addWebhookAction,
		},
		{
			Name:  "list",
			Usage: "list the registered webhooks",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "event",
					Usage: "filter the webhooks by event",
				},
			},
			Action: listWebhooksAction,
		},
		{
			Name:      "remove",
			Usage:     "remove a webhook",
			ArgsUsage: "<webhook_id>",
			Action:    removeWebhookAction,
		},
	},
}

func addWebhookAction(ctx *cli.Context) error {
	c, err := getClient()
	if err != nil {
		return err
	}
	resp, err := c.do(http.MethodPost, "/webhooks", map[string]string{
		"event":    ctx.String("event"),
		"endpoint": ctx.String("endpoint"),
		"secret":   ctx.String("secret"),
	})
	if err != nil {
		return err
	}

	printRespJSON(resp)
	return nil
}

func listWebhooksAction(ctx *cli.Context) error {
	c, err := getClient()
	if err != nil {
		return err
	}
	path := "/webhooks"
	if event := ctx.String("event"); event != "" {
		path += "?event=" + event
	}
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	printRespJSON(resp)
	return nil
}

func removeWebhookAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, "remove"}
	}
	c, err := getClient()
	if err != nil {
		return err
	}
	if _, err := c.do(
		http.MethodDelete, fmt.Sprintf("/webhooks/%s", ctx.Args().First()), nil,
	); err != nil {
		return err
	}

	fmt.Println("webhook removed")
	return nil
}
