package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dunamismax/fitroom/internal/bootstrap"
	"github.com/dunamismax/fitroom/internal/config"
	"github.com/dunamismax/fitroom/internal/domain"
	"github.com/dunamismax/fitroom/internal/imageproc"
	"github.com/dunamismax/fitroom/internal/logging"
	"github.com/dunamismax/fitroom/internal/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanup happens before exit.
func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("[tryon] load config: %v", err)
		return 1
	}
	logger, logCloser := logging.New("tryon", cfg.Log)
	defer logCloser.Close()

	flags := flag.NewFlagSet("tryon", flag.ContinueOnError)
	var (
		personPath = flags.String("person", "", "path to the person photo")
		dressPath  = flags.String("dress", "", "path to the dress photo")
		outputDir  = flags.String("out", cfg.TryOn.OutputDir, "directory for try_on_result_<unix>.png")
		quality    = flags.String("quality", cfg.TryOn.Quality, "fast, balanced or high")
		analysis   = flags.Bool("analysis", cfg.TryOn.EnableAnalysis, "also request compatibility analysis and styling suggestions")
		fallback   = flags.String("fallback", cfg.TryOn.FallbackMode, "fallback layout: side_by_side or overlay")
		compare    = flags.Bool("compare", false, "also write the person photo and result side by side")
	)
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if strings.TrimSpace(*personPath) == "" || strings.TrimSpace(*dressPath) == "" {
		flags.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	synth, pool := bootstrap.NewSynthesizer(cfg.Gemini, logger)
	defer pool.Close()

	started := time.Now()
	out, err := pipeline.NewLocalProcessor(*outputDir, synth).Process(ctx, pipeline.Request{
		SourceType: domain.SourceTypeLocalFile,
		PersonKey:  *personPath,
		DressKey:   *dressPath,
		Options: domain.TryOnOptions{
			Quality:        *quality,
			EnableAnalysis: *analysis,
			FallbackMode:   *fallback,
		},
	})
	if err != nil {
		logger.Printf("try-on failed: %v", err)
		return 1
	}
	logger.Printf("wrote %s size=%dx%d fallback=%t elapsed=%s", out.Path, out.Width, out.Height, out.Fallback, time.Since(started).Round(time.Millisecond))

	if *compare {
		path, err := writeComparison(*personPath, out)
		if err != nil {
			logger.Printf("comparison failed: %v", err)
			return 1
		}
		logger.Printf("wrote %s", path)
	}

	params, _ := json.MarshalIndent(out.Parameters, "", "  ")
	fmt.Printf("Result: %s\n\nDescription:\n%s\n\nFitting parameters:\n%s\n", out.Path, out.Description, params)
	if out.Analysis != "" {
		fmt.Printf("\nCompatibility analysis:\n%s\n", out.Analysis)
	}
	if out.Suggestions != "" {
		fmt.Printf("\nStyling suggestions:\n%s\n", out.Suggestions)
	}
	return 0
}

// writeComparison stores the original person photo next to the result as
// try_on_comparison_<unix>.png beside the result file.
func writeComparison(personPath string, out pipeline.Output) (string, error) {
	personData, err := os.ReadFile(personPath)
	if err != nil {
		return "", err
	}
	person, _, err := imageproc.Decode(personData)
	if err != nil {
		return "", fmt.Errorf("decode person image: %w", err)
	}
	result, _, err := imageproc.Decode(out.Data)
	if err != nil {
		return "", fmt.Errorf("decode result: %w", err)
	}

	data, err := imageproc.EncodePNG(imageproc.Comparison(person, result))
	if err != nil {
		return "", err
	}
	path := filepath.Join(filepath.Dir(out.Path), fmt.Sprintf("try_on_comparison_%d.png", time.Now().Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write comparison: %w", err)
	}
	return path, nil
}
