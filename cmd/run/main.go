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
	"path/filepath"
	"strings"
	"syscall"

	"github.com/kirillkom/medical-chronology/internal/bootstrap"
	"github.com/kirillkom/medical-chronology/internal/config"
	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/format"
	"github.com/kirillkom/medical-chronology/internal/observability/logging"
)

const (
	exitOK                  = 0
	exitFailed              = 1
	exitInvalidInput        = 2
	exitContractUnsatisfied = 3
)

type runOptions struct {
	folder       string
	sessionID    string
	patientID    string
	patientName  string
	dateOfBirth  string
	dateOfInjury string
	destination  string
	jsonOutput   bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(arguments []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(arguments)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitInvalidInput
	}
	req, root, err := opts.request()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitInvalidInput
	}

	cfg := config.Load()
	slog.SetDefault(logging.New(stderr, "chronology-run", cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "run", DocumentsRoot: root})
	if err != nil {
		fmt.Fprintf(stderr, "bootstrap error: %v\n", err)
		return exitFailed
	}
	defer app.Close()

	result, runErr := app.Sessions.Run(ctx, req)
	code := exitCodeFor(runErr)
	if result == nil {
		fmt.Fprintf(stderr, "error: %v\n", runErr)
		return code
	}
	if opts.jsonOutput {
		writeJSONResult(stdout, result)
	} else {
		writeTextResult(stdout, result, runErr)
	}
	return code
}

func parseArgs(arguments []string) (runOptions, error) {
	var opts runOptions
	flagSet := flag.NewFlagSet("run", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.folder, "folder", "", "local folder with the patient's PDF and text records")
	flagSet.StringVar(&opts.sessionID, "session-id", "", "resume or name a session (default <patient-id>_<timestamp>)")
	flagSet.StringVar(&opts.patientID, "patient-id", "", "patient identifier used in the session id")
	flagSet.StringVar(&opts.patientName, "patient-name", "", "patient name for the narrative header")
	flagSet.StringVar(&opts.dateOfBirth, "dob", "", "date of birth (YYYY-MM-DD or MM/DD/YYYY)")
	flagSet.StringVar(&opts.dateOfInjury, "doi", "", "date of injury (YYYY-MM-DD or MM/DD/YYYY)")
	flagSet.StringVar(&opts.destination, "destination", "", "remote destination such as gs://bucket/prefix")
	flagSet.BoolVar(&opts.jsonOutput, "json", false, "emit the session result as JSON")

	if err := flagSet.Parse(arguments); err != nil {
		return runOptions{}, err
	}
	if len(flagSet.Args()) > 0 {
		return runOptions{}, fmt.Errorf("unexpected positional arguments %v", flagSet.Args())
	}
	if strings.TrimSpace(opts.folder) == "" {
		return runOptions{}, errors.New("--folder is required")
	}
	return opts, nil
}

// request splits the folder into a documents root and a reference below it.
func (o runOptions) request() (domain.SessionRequest, string, error) {
	abs, err := filepath.Abs(o.folder)
	if err != nil {
		return domain.SessionRequest{}, "", fmt.Errorf("resolve folder: %w", err)
	}
	dob, err := format.ParseDate(o.dateOfBirth)
	if err != nil {
		return domain.SessionRequest{}, "", fmt.Errorf("invalid --dob %q", o.dateOfBirth)
	}
	doi, err := format.ParseDate(o.dateOfInjury)
	if err != nil {
		return domain.SessionRequest{}, "", fmt.Errorf("invalid --doi %q", o.dateOfInjury)
	}

	sessionID := strings.TrimSpace(o.sessionID)
	if sessionID == "" {
		sessionID = domain.NewSessionID(o.patientID, timeNow())
	}
	return domain.SessionRequest{
		SessionID:   sessionID,
		PatientID:   o.patientID,
		Reference:   filepath.Base(abs),
		Destination: o.destination,
		Metadata: domain.Metadata{
			PatientName:  strings.TrimSpace(o.patientName),
			DateOfBirth:  dob,
			DateOfInjury: doi,
		},
	}, filepath.Dir(abs), nil
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrNotFound):
		return exitInvalidInput
	case domain.IsKind(err, domain.ErrContractUnsatisfied):
		return exitContractUnsatisfied
	default:
		return exitFailed
	}
}

func writeJSONResult(w io.Writer, result *domain.SessionResult) {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(result)
}

func writeTextResult(w io.Writer, result *domain.SessionResult, runErr error) {
	fmt.Fprintf(w, "session:   %s\n", result.SessionID)
	fmt.Fprintf(w, "status:    %s\n", result.Status)
	if result.FailedPhase != "" {
		fmt.Fprintf(w, "failed at: %s\n", result.FailedPhase)
	}
	if runErr != nil {
		fmt.Fprintf(w, "error:     %v\n", runErr)
	}
	fmt.Fprintf(w, "documents: %d\n", result.Documents)
	fmt.Fprintf(w, "entries:   %d\n", result.Entries)
	fmt.Fprintf(w, "rounds:    %d\n", result.RoundsUsed)
	for _, v := range result.Report.Violations {
		fmt.Fprintf(w, "  %s\n", v.String())
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "warning:   %s\n", warning)
	}
	for _, key := range result.Artifacts {
		fmt.Fprintf(w, "artifact:  %s\n", key)
	}
}
