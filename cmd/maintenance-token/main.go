// Command maintenance-token prints a signed token for the maintenance routes.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"skin-accounts/internal/guard"
)

func main() {
	subject := flag.String("sub", "cron", "token subject")
	ttl := flag.Duration("ttl", 0, "token lifetime (default 1h)")
	flag.Parse()

	_ = godotenv.Load()

	token, err := guard.IssueMaintenanceToken(os.Getenv("MAINTENANCE_JWT_SECRET"), *subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
