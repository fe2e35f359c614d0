// Command mrtdscan reads one document through an APDU relay and prints the
// scan result as JSON.
//
//	mrtdscan -relay 192.168.1.20:35963 -key key.json > result.json
//
// key.json holds {"doc_number":"L898902C","dob":"1969-08-06","doe":"1994-06-23"}.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mrtdreader/internal/mrtd/access"
	"mrtdreader/internal/mrtd/face"
	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/orchestrator"
	"mrtdreader/internal/mrtd/reader"
	"mrtdreader/internal/mrtd/smcrypto"
	"mrtdreader/internal/mrtd/tracer"
	"mrtdreader/internal/platform/logger"
	"mrtdreader/internal/transport/relay"
)

// Exit codes besides 0 and the generic 1.
const (
	exitUsage     = 2
	exitFailed    = 3
	exitCancelled = 130
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "mrtdscan:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("mrtdscan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "TOML config file")
	relayAddr := fs.String("relay", "", "APDU relay host:port (overrides the config file)")
	keyPath := fs.String("key", "-", "access key JSON file, - for stdin")
	outPath := fs.String("out", "-", "result file, - for stdout")
	if err := fs.Parse(args); err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	cfg := defaultScanConfig()
	if *configPath != "" {
		loaded, err := loadScanConfig(*configPath)
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		cfg = loaded
	}
	if *relayAddr != "" {
		cfg.RelayAddr = *relayAddr
	}
	if err := cfg.validate(); err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	key, err := readKey(*keyPath, stdin)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	log := logger.NewWithWriter(stderr, cfg.LogLevel)
	result, err := scan(ctx, cfg, key, log)
	if err != nil {
		return err
	}
	return writeResult(*outPath, stdout, result)
}

func readKey(path string, stdin io.Reader) (models.KeySpec, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return models.KeySpec{}, fmt.Errorf("open key: %w", err)
		}
		defer f.Close()
		r = f
	}
	var key models.KeySpec
	if err := json.NewDecoder(r).Decode(&key); err != nil {
		return models.KeySpec{}, fmt.Errorf("decode key: %w", err)
	}
	if err := key.Validate(); err != nil {
		return models.KeySpec{}, fmt.Errorf("invalid key: %w", err)
	}
	return key, nil
}

func scan(ctx context.Context, cfg scanConfig, key models.KeySpec, log *slog.Logger) (*models.ScanResult, error) {
	dialer, err := relay.NewDialer(cfg.RelayAddr,
		relay.WithLogger(log),
		relay.WithExchangeTimeout(cfg.ExchangeTimeout),
		relay.WithDialTimeout(cfg.DialTimeout),
	)
	if err != nil {
		return nil, &exitError{code: exitUsage, err: err}
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()
	transport, err := dialer.Dial(scanCtx)
	if err != nil {
		return nil, err
	}

	files := reader.New(reader.WithBlockSize(cfg.BlockSize), reader.WithLogger(log))
	o := orchestrator.New(
		access.New(smcrypto.NewStdProvider(), access.WithLogger(log), access.WithReader(files)),
		orchestrator.WithReader(files),
		orchestrator.WithExtractor(face.NewExtractor(
			face.WithChunkSize(cfg.ChunkSize),
			face.WithDecoders(face.DefaultChain(cfg.OPJDecompress)...),
			face.WithLogger(log),
		)),
		orchestrator.WithTracer(tracer.NewNoop()),
		orchestrator.WithLogger(log),
	)

	sink := orchestrator.NewChannelSink(16)
	s, err := o.Start(scanCtx, transport, key, sink)
	if err != nil {
		transport.Close() //nolint:errcheck // the scan never owned it
		return nil, err
	}
	// An interrupt cancels; running out of scan time fails the scan.
	stopCancel := context.AfterFunc(ctx, s.Cancel)
	defer stopCancel()

	for ev := range sink.Events() {
		switch ev.Kind {
		case models.EventProgress:
			attrs := []any{"state", ev.Progress.State, "overall", ev.Progress.Overall}
			if id := ev.Progress.FileID; id != models.FileNone {
				attrs = append(attrs, "file", id.String())
			}
			if ev.Progress.Sub != nil {
				attrs = append(attrs, "image", *ev.Progress.Sub)
			}
			log.Debug("scan progress", attrs...)
		case models.EventCompleted:
			log.Info("scan completed", "access_control", ev.Result.AccessControl)
			return ev.Result, nil
		case models.EventFailed:
			return nil, &exitError{code: exitFailed, err: ev.Failure}
		case models.EventCancelled:
			return nil, &exitError{code: exitCancelled, err: errors.New("scan cancelled")}
		}
	}
	return nil, errors.New("scan ended without an outcome")
}

func writeResult(path string, stdout io.Writer, result *models.ScanResult) error {
	w := stdout
	if path != "-" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
