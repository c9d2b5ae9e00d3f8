// Command stubscanner starts an in-memory imitation of the scanner JSON API
// for trying out the gateway without a real scanner.
// Usage: go run ./cmd/stubscanner [port]
// Default port: 8080
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/zapgate/zapgate/internal/stubscanner"
)

func main() {
	cfg := stubscanner.DefaultConfig()

	// Optional: custom port from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			log.Fatalf("Invalid port: %s", os.Args[1])
		}
		cfg.Port = port
	}

	fmt.Println("Stub scanner — canned crawl, attack, and alert endpoints.")
	fmt.Println("Point ZAP_BASE at this address and run any scan mode against it.")
	fmt.Println()

	server := stubscanner.New(cfg)
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
