package main

import (
	"fmt"
	"net/http"

	"github.com/urfave/cli/v2"
)

var trades = cli.Command{
	Name:  "trades",
	Usage: "list and inspect the trades of the node",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "get the list of trades",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "open",
					Usage: "list only trades not yet archived",
				},
			},
			Action: listTradesAction,
		},
		{
			Name:      "show",
			Usage:     "get the details of a trade",
			ArgsUsage: "<trade_id>",
			Action:    showTradeAction,
		},
	},
}

var confirmpaymentsent = cli.Command{
	Name:      "confirm-payment-sent",
	Usage:     "notify the seller that the payment of a trade has been sent",
	ArgsUsage: "<trade_id>",
	Action:    confirmPaymentSentAction,
}

var confirmpaymentreceived = cli.Command{
	Name:      "confirm-payment-received",
	Usage:     "confirm the payment of a trade has been received and release the funds",
	ArgsUsage: "<trade_id>",
	Action:    confirmPaymentReceivedAction,
}

func listTradesAction(ctx *cli.Context) error {
	c, err := getClient()
	if err != nil {
		return err
	}

	path := "/trades"
	if ctx.Bool("open") {
		path += "?open=true"
	}
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	printRespJSON(resp)
	return nil
}

func showTradeAction(ctx *cli.Context) error {
	return tradeAction(ctx, "show", http.MethodGet, "")
}

func confirmPaymentSentAction(ctx *cli.Context) error {
	return tradeAction(ctx, "confirm-payment-sent", http.MethodPost, "/payment-sent")
}

func confirmPaymentReceivedAction(ctx *cli.Context) error {
	return tradeAction(
		ctx, "confirm-payment-received", http.MethodPost, "/payment-received",
	)
}

func tradeAction(ctx *cli.Context, command, method, suffix string) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, command}
	}
	c, err := getClient()
	if err != nil {
		return err
	}

	resp, err := c.do(method, fmt.Sprintf("/trades/%s%s", ctx.Args().First(), suffix), nil)
	if err != nil {
		return err
	}

	printRespJSON(resp)
	return nil
}
