// Command token signs a bearer token for local runs against the API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/auth"
	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	user := flag.String("user", "", "user id to put in the token")
	admin := flag.Bool("admin", false, "grant admin access")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *user == "" || cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "usage: JWT_SECRET=... token -user <id> [-admin] [-ttl 24h]")
		os.Exit(2)
	}
	tok, err := auth.NewVerifier(cfg.JWTSecret).Issue(*user, *admin, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
