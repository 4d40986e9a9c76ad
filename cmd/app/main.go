// Command app transcribes a single local audio file and prints the
// delivery fragments to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"audio-transcriber/internal/audio"
	"audio-transcriber/internal/config"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/output"
	"audio-transcriber/internal/transcribe"
)

func main() {
	inputPath := flag.String("file", "", "path to the audio file to transcribe")
	chunkLength := flag.Int("chunk", 0, "chunk length in seconds (defaults to CHUNK_LENGTH_SECONDS)")
	timeoutSeconds := flag.Int("timeout", 0, "per-segment timeout in seconds (defaults to TRANSCRIBE_TIMEOUT_SECONDS)")
	flag.Parse()

	if *inputPath == "" {
		log.Fatal("usage: app -file <audio file> [-chunk N] [-timeout N]")
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to environment variables")
	}

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}
	if *chunkLength > 0 {
		settings.ChunkLengthSeconds = *chunkLength
	}
	if *timeoutSeconds > 0 {
		settings.TimeoutSeconds = *timeoutSeconds
	}
	if err := config.Validate(settings); err != nil {
		log.Fatalf("invalid settings: %v", err)
	}

	transcriber, err := transcribe.New(settings.APIKey, settings.BaseURL, settings.Model)
	if err != nil {
		log.Fatalf("build transcriber: %v", err)
	}

	orchestrator := jobs.NewOrchestrator(audio.NewSegmenter(), transcriber)
	transcript, err := orchestrator.Run(context.Background(), jobs.RunRequest{
		InputPath:          *inputPath,
		FileName:           filepath.Base(*inputPath),
		ChunkLengthSeconds: settings.ChunkLengthSeconds,
		Timeout:            time.Duration(settings.TimeoutSeconds) * time.Second,
		OnStage: func(stage string) {
			log.Printf("stage: %s", stage)
		},
	})
	if err != nil {
		log.Fatalf("transcription failed: %v", err)
	}

	for i, fragment := range output.Split(transcript, settings.FragmentLength) {
		if i > 0 {
			fmt.Println("---")
		}
		fmt.Println(fragment)
	}
}
