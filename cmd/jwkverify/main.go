// Command jwkverify validates JWTs against a remote JSON Web Key Set and can
// run as a small validation service.
package main

import (
	"fmt"
	"os"

	"github.com/PaulFidika/jwkclient/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(Execute(cfg))
}
