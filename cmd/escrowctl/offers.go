package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/urfave/cli/v2"
)

var (
	offerFileFlag = cli.StringFlag{
		Name:     "offer",
		Usage:    "path of the json file describing the offer",
		Required: true,
	}
	accountFileFlag = cli.StringFlag{
		Name:     "account",
		Usage:    "path of the json file describing the payment account",
		Required: true,
	}
)

var offers = cli.Command{
	Name:  "offers",
	Usage: "manage the offers of the node",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "get the list of offers placed by the node",
			Action: listOffersAction,
		},
		{
			Name:   "place",
			Usage:  "place a new offer",
			Flags:  []cli.Flag{&offerFileFlag, &accountFileFlag},
			Action: placeOfferAction,
		},
		{
			Name:      "remove",
			Usage:     "remove an offer not yet taken",
			ArgsUsage: "<offer_id>",
			Action:    removeOfferAction,
		},
	},
}

var take = cli.Command{
	Name:  "take",
	Usage: "take an offer of another node",
	Flags: []cli.Flag{
		&offerFileFlag,
		&accountFileFlag,
		&cli.Uint64Flag{
			Name:     "amount",
			Usage:    "the amount to trade in atomic units",
			Required: true,
		},
	},
	Action: takeOfferAction,
}

func listOffersAction(_ *cli.Context) error {
	c, err := getClient()
	if err != nil {
		return err
	}
	resp, err := c.do(http.MethodGet, "/offers", nil)
	if err != nil {
		return err
	}

	printRespJSON(resp)
	return nil
}

func placeOfferAction(ctx *cli.Context) error {
	var offer, account json.RawMessage
	if err := readJSONFile(ctx.String("offer"), &offer); err != nil {
		return err
	}
	if err := readJSONFile(ctx.String("account"), &account); err != nil {
		return err
	}

	c, err := getClient()
	if err != nil {
		return err
	}
	resp, err := c.do(http.MethodPost, "/offers", map[string]json.RawMessage{
		"offer":   offer,
		"account": account,
	})
	if err != nil {
		return err
	}

	printRespJSON(resp)
	return nil
}

func removeOfferAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, "remove"}
	}
	c, err := getClient()
	if err != nil {
		return err
	}
	if _, err := c.do(
		http.MethodDelete, fmt.Sprintf("/offers/%s", ctx.Args().First()), nil,
	); err != nil {
		return err
	}

	fmt.Println("offer removed")
	return nil
}

func takeOfferAction(ctx *cli.Context) error {
	amount := ctx.Uint64("amount")
	if amount == 0 {
		return fmt.Errorf("amount must be positive")
	}
	var offer, account json.RawMessage
	if err := readJSONFile(ctx.String("offer"), &offer); err != nil {
		return err
	}
	if err := readJSONFile(ctx.String("account"), &account); err != nil {
		return err
	}

	c, err := getClient()
	if err != nil {
		return err
	}
	resp, err := c.do(http.MethodPost, "/offers/take", map[string]interface{}{
		"offer":   offer,
		"amount":  amount,
		"account": account,
	})
	if err != nil {
		return err
	}

	printRespJSON(resp)
	return nil
}
