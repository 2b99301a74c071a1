package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [token]",
	Short: "Validate a token and print its claims",
	Long:  "Validate a token (argument, or stdin when omitted or \"-\") and print its claims as JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readToken(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		claims, err := client.Validate(cmd.Context(), token)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(claims)
	},
}

func readToken(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return strings.TrimSpace(args[0]), nil
	}
	if stdin == nil {
		stdin = os.Stdin
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", errors.New("no token given")
	}
	return token, nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
