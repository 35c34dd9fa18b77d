package main

import (
	"fmt"
	"log"
	"net/http"

	"mindful-chat-backend/internal/config"
	"mindful-chat-backend/internal/server"
)

func main() {
	cfg := config.Load()
	s, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	addr := ":" + cfg.Port
	fmt.Printf("mindful chat relay listening on %s\n", addr)
	log.Fatal(http.ListenAndServe(addr, s.Router()))
}
