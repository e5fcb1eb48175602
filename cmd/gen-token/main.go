package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"sprint-board/internal/token"
)

func main() {
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: gen-token [-ttl 1h] <developer-id>")
	}
	secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
	if secret == "" {
		log.Fatal("LOCAL_AUTH_SHARED_SECRET must be set")
	}
	tok, err := token.Sign([]byte(secret), flag.Arg(0), *ttl)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Print(tok)
}
