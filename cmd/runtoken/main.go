// Command runtoken prints a bearer token for local runs against the daemon,
// signed with the same JWT_SECRET the runs backend uses.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"backend-runtrack/internal/auth"
	"backend-runtrack/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:], config.Load(), os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, cfg config.Config, out io.Writer) error {
	fs := flag.NewFlagSet("runtoken", flag.ContinueOnError)
	user := fs.String("user", "", "user id placed in the sub claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token, err := auth.IssueToken(cfg.JWTSecret, *user, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
