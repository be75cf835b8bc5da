package main

import (
	"net/http"

	"github.com/urfave/cli/v2"
)

var paymentmethods = cli.Command{
	Name:   "payment-methods",
	Usage:  "get the payment methods supported by the node",
	Action: paymentMethodsAction,
}

func paymentMethodsAction(_ *cli.Context) error {
	c, err := getClient()
	if err != nil {
		return err
	}
	resp, err := c.do(http.MethodGet, "/payment-methods", nil)
	if err != nil {
		return err
	}

	printRespJSON(resp)
	return nil
}
