package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize <auction-id>",
	Short: "Settle a closed auction",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		body, _ := json.Marshal(map[string]string{"auction_id": args[0]})

		resp, err := http.Post(apiURL()+"/transactions/finalize", "application/json", bytes.NewBuffer(body))
		if err != nil {
			fmt.Printf("Error connecting to settlement service: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusAccepted {
			fmt.Println("Transaction recorded, but some payout jobs were not enqueued. Re-drive them with 'settlectl pay'.")
		}
		printJSON(resp.Body)
		if resp.StatusCode >= http.StatusBadRequest {
			os.Exit(1)
		}
	},
}

var txCmd = &cobra.Command{
	Use:     "tx <transaction-or-auction-id>",
	Aliases: []string{"transaction"},
	Short:   "Show a settlement transaction and its payouts",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		get("/transactions/" + args[0])
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger <transaction-or-auction-id>",
	Short: "Show the ledger entries recorded for a transaction",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		get("/transactions/" + args[0] + "/ledger")
	},
}

var payCmd = &cobra.Command{
	Use:   "pay <transaction-id> <payee-id>",
	Short: "Re-drive a pending or failed payout",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		url := fmt.Sprintf("%s/transactions/%s/payouts/%s/pay", apiURL(), args[0], args[1])
		resp, err := http.Post(url, "application/json", nil)
		if err != nil {
			fmt.Printf("Error connecting to settlement service: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		printJSON(resp.Body)
		if resp.StatusCode >= http.StatusBadRequest {
			os.Exit(1)
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show payout queue depths and counters",
	Run: func(cmd *cobra.Command, args []string) {
		get("/queue/stats")
	},
}

func init() {
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(payCmd)
	rootCmd.AddCommand(statsCmd)
}

func apiURL() string {
	return viper.GetString("api")
}

func get(path string) {
	resp, err := http.Get(apiURL() + path)
	if err != nil {
		fmt.Printf("Error connecting to settlement service: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	printJSON(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		os.Exit(1)
	}
}

func printJSON(r io.Reader) {
	raw, err := io.ReadAll(r)
	if err != nil {
		fmt.Printf("Error reading response: %v\n", err)
		os.Exit(1)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}
