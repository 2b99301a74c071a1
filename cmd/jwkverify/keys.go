package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	authhttp "github.com/PaulFidika/jwkclient/adapters/http"
	"github.com/spf13/cobra"
)

var keysJSON bool

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Fetch the key set and list the usable RSA keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		if err := client.Refresh(cmd.Context()); err != nil {
			return err
		}

		if keysJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(authhttp.KeySet(client.Cache(), cfg.Algorithm))
		}

		now := time.Now()
		snap := client.Cache().Snapshot()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KID\tBITS\tNOT BEFORE\tACTIVE")
		for _, kid := range client.Cache().KeyIDs() {
			e := snap[kid]
			nbf := "-"
			if !e.NotBefore.IsZero() {
				nbf = e.NotBefore.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%t\n", kid, e.Key.N.BitLen(), nbf, e.ValidAt(now))
		}
		return tw.Flush()
	},
}

func init() {
	keysCmd.Flags().BoolVar(&keysJSON, "json", false, "print the keys as a JWKS document")
	rootCmd.AddCommand(keysCmd)
}
