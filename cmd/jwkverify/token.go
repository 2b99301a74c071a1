package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	printToken   bool
	clientIDFlag string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Obtain a client-credentials token from the issuer and validate it",
	Long: "Discover the issuer's token endpoint, request a token with the OAuth2 client-credentials " +
		"grant (JWK_CLIENT_ID, JWK_CLIENT_SECRET, JWK_SCOPES) and validate it end to end.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.ClientID == "" {
			return errors.New("client id is required (JWK_CLIENT_ID or --client-id)")
		}
		p, err := discover(cmd.Context())
		if err != nil {
			return err
		}
		cc, err := p.ClientCredentials(cfg.ClientID, cfg.ClientSecret, cfg.Scopes...)
		if err != nil {
			return err
		}
		tok, err := cc.Token(cmd.Context())
		if err != nil {
			return fmt.Errorf("token request: %w", err)
		}
		if printToken {
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
		}

		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		claims, err := client.Validate(cmd.Context(), tok.AccessToken)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(claims)
	},
}

func init() {
	tokenCmd.Flags().BoolVar(&printToken, "print-token", false, "also print the raw access token")
	tokenCmd.Flags().StringVar(&clientIDFlag, "client-id", "", "OAuth2 client id (JWK_CLIENT_ID)")
	tokenCmd.PreRun = func(*cobra.Command, []string) {
		if clientIDFlag != "" {
			cfg.ClientID = clientIDFlag
		}
	}
	rootCmd.AddCommand(tokenCmd)
}
