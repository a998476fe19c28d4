package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"meshrelay/internal/client"
	"meshrelay/internal/domain"
	"meshrelay/internal/infra"
	"meshrelay/internal/normalize"
	"meshrelay/internal/poller"
)

type options struct {
	server   string
	out      string
	interval time.Duration
	timeout  time.Duration
	image    string
	fields   map[string]string
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	server := fs.String("server", envOr("MESHRELAY_URL", "http://localhost:8080"), "relay base URL")
	out := fs.String("out", ".", "directory the asset is written to")
	interval := fs.Duration("interval", time.Second, "status poll interval")
	timeout := fs.Duration("timeout", 15*time.Minute, "give up after this long")
	image := fs.String("image", "", "local image to upload (dynamic_glb)")

	model := fs.String(normalize.FieldModelType, "", "model type: dynamic_glb or ply")
	fieldFlags := map[string]*string{}
	for _, name := range []string{
		normalize.FieldPrompt,
		normalize.FieldNegativePrompt,
		normalize.FieldGuidanceScale,
		normalize.FieldMaxSteps,
		normalize.FieldNumSteps,
		normalize.FieldAvatar,
		normalize.FieldSeed,
		normalize.FieldUseFastConfigs,
		normalize.FieldImageURL,
	} {
		fieldFlags[name] = fs.String(name, "", "form field "+name)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*model) == "" {
		return nil, errors.New("-model_type is required")
	}

	opts := &options{
		server:   *server,
		out:      *out,
		interval: *interval,
		timeout:  *timeout,
		image:    strings.TrimSpace(*image),
		fields:   map[string]string{normalize.FieldModelType: strings.TrimSpace(*model)},
	}
	for name, v := range fieldFlags {
		if s := strings.TrimSpace(*v); s != "" {
			opts.fields[name] = s
		}
	}
	switch {
	case opts.image != "":
		opts.fields[normalize.FieldImageType] = normalize.ImageTypeUpload
	case opts.fields[normalize.FieldImageURL] != "":
		opts.fields[normalize.FieldImageType] = normalize.ImageTypeURL
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	logger := infra.NewLogger("development").With().Str("cmd", "generate").Logger()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	c := client.New(client.Options{BaseURL: opts.server, Logger: &logger})
	sub := client.Submission{Fields: opts.fields, IdempotencyKey: uuid.NewString()}
	if opts.image != "" {
		f, err := os.Open(opts.image)
		if err != nil {
			return fmt.Errorf("open image: %w", err)
		}
		defer f.Close()
		sub.Image = f
		sub.ImageName = filepath.Base(opts.image)
	}

	pred, err := c.Create(ctx, sub)
	if err != nil {
		return fmt.Errorf("submit: %s", domain.MessageOf(err, err.Error()))
	}

	last := pred.Status
	p := &poller.Poller{
		Fetcher:  c,
		Interval: opts.interval,
		OnUpdate: func(p *domain.Prediction) {
			if p.Status != last {
				last = p.Status
				logger.Info().Str("prediction_id", p.ID).Str("status", string(p.Status)).Msg("status changed")
			}
		},
	}
	id := pred.ID
	pred, err = p.Wait(ctx, id)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", id, err)
	}
	if pred.Status == domain.JobStatusFailed {
		msg := pred.Error
		if msg == "" {
			msg = domain.DefaultFailureDetail
		}
		return fmt.Errorf("prediction %s failed: %s", pred.ID, msg)
	}

	asset, err := c.DownloadAsset(ctx, pred.ID)
	if err != nil {
		return fmt.Errorf("download: %s", domain.MessageOf(err, err.Error()))
	}
	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(opts.out, pred.ID+"-"+filepath.Base(asset.Filename))
	if err := os.WriteFile(path, asset.Data, 0o644); err != nil {
		return fmt.Errorf("write asset: %w", err)
	}
	fmt.Fprintln(stdout, path)
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
