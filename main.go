package main

import (
	"log"

	"github.com/joho/godotenv"

	"audio-transcriber/internal/bootstrap"
	"audio-transcriber/internal/domain"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to environment variables")
	}

	app, err := bootstrap.New()
	if err != nil {
		log.Fatalf("bootstrap app: %v", err)
	}

	if app.Diagnostics.HasFailures {
		for _, item := range app.Diagnostics.Items {
			if item.Status == domain.DiagnosticStatusFail {
				log.Printf("diagnostic %s: %s", item.ID, item.Message)
			}
		}
	}

	if err := app.Run(); err != nil {
		log.Fatalf("run app: %v", err)
	}
}
