package main

import (
	"context"
	"encoding/json"
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

	"golang.org/x/term"

	apiclient "github.com/achintir-projects/android-ios-automation-sub001/pkg/api/client"
	"github.com/achintir-projects/android-ios-automation-sub001/pkg/crypto"
)

const defaultAPIBaseURL = "http://localhost:4000"

type cliConfig struct {
	APIBaseURL string `json:"api_base_url"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "submit":
		err = commandSubmit(args)
	case "status":
		err = commandStatus(args)
	case "list":
		err = commandList(args)
	case "cancel":
		err = commandCancel(args)
	case "watch":
		err = commandWatch(args)
	case "config":
		err = commandConfig(args)
	case "seal":
		err = commandSeal(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		var apiErr apiclient.APIError
		if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
			fmt.Fprintf(os.Stderr, "error: %s\n", apiErr.Message)
			for _, f := range apiErr.Fields {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", f.Field, f.Message)
			}
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// paramFlag collects repeated --param key=value flags.
type paramFlag map[string]string

func (p paramFlag) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(raw string) error {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("parameter %q must be key=value", raw)
	}
	p[key] = value
	return nil
}

func newClient(apiBase string) (*apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(apiBase) != "" {
		cfg.APIBaseURL = apiBase
	}
	if env := strings.TrimSpace(os.Getenv("SHIPIT_API")); env != "" && strings.TrimSpace(apiBase) == "" {
		cfg.APIBaseURL = env
	}
	return apiclient.New(cfg.APIBaseURL)
}

func commandSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	channel := fs.String("channel", "", "Channel (store-release|review-track|beta-distribution|file-distribution|object-storage|artifact-release)")
	platform := fs.String("platform", "", "Optional platform hint (android|ios|universal)")
	artifact := fs.String("artifact", "", "Staged artifact path")
	filename := fs.String("filename", "", "Original file name (defaults to the artifact base name)")
	watch := fs.Bool("watch", false, "Follow the job until it finishes")
	apiBase := fs.String("api", "", "API base URL")
	params := paramFlag{}
	fs.Var(params, "param", "Channel parameter key=value (repeatable)")
	fs.Parse(args)

	if strings.TrimSpace(*channel) == "" {
		return errors.New("--channel is required")
	}
	if strings.TrimSpace(*artifact) == "" {
		return errors.New("--artifact is required")
	}
	name := strings.TrimSpace(*filename)
	if name == "" {
		name = filepath.Base(*artifact)
	}

	client, err := newClient(*apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job, err := client.Submit(ctx, apiclient.SubmitInput{
		Channel:    *channel,
		Platform:   *platform,
		Artifact:   apiclient.Artifact{Path: *artifact, Filename: name},
		Parameters: params,
	})
	if err != nil {
		return err
	}
	fmt.Printf("job queued: %s channel=%s platform=%s\n", job.ID, job.Channel, job.Platform)
	if !*watch {
		return nil
	}
	return watchJob(client, job.ID, 2*time.Second)
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("job", "", "Job identifier")
	asJSON := fs.Bool("json", false, "Print the raw job")
	apiBase := fs.String("api", "", "API base URL")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--job is required")
	}

	client, err := newClient(*apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	job, err := client.GetJob(ctx, *id)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}
	printJob(os.Stdout, job)
	return nil
}

func commandList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	channel := fs.String("channel", "", "Only jobs for this channel")
	status := fs.String("status", "", "Only jobs in this status")
	limit := fs.Int("limit", 20, "Maximum number of jobs")
	apiBase := fs.String("api", "", "API base URL")
	fs.Parse(args)

	client, err := newClient(*apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	jobs, err := client.ListJobs(ctx, apiclient.ListFilter{Channel: *channel, Status: *status, Limit: *limit})
	if err != nil {
		return err
	}
	for _, job := range jobs {
		fmt.Printf("%s\t%s\t%s\t%3d%%\t%s\n", job.ID, job.Channel, job.Status, job.Progress, job.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func commandCancel(args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	id := fs.String("job", "", "Job identifier")
	apiBase := fs.String("api", "", "API base URL")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--job is required")
	}

	client, err := newClient(*apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	job, err := client.CancelJob(ctx, *id)
	var apiErr apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.IsConflict() {
		return fmt.Errorf("job %s already finished", *id)
	}
	if err != nil {
		return err
	}
	fmt.Printf("job %s %s\n", job.ID, job.Status)
	return nil
}

func commandWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	id := fs.String("job", "", "Job identifier")
	interval := fs.Duration("interval", 2*time.Second, "Polling interval")
	apiBase := fs.String("api", "", "API base URL")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--job is required")
	}
	client, err := newClient(*apiBase)
	if err != nil {
		return err
	}
	return watchJob(client, *id, *interval)
}

func watchJob(client *apiclient.Client, id string, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fd := int(os.Stdout.Fd())
	interactive := term.IsTerminal(fd)
	width := 0
	if interactive {
		if w, _, err := term.GetSize(fd); err == nil {
			width = w
		}
	}
	printed := 0
	job, err := client.WatchJob(ctx, id, interval, func(job apiclient.Job) {
		for _, line := range job.Logs[min(printed, len(job.Logs)):] {
			if interactive {
				fmt.Print("\r\033[K")
			}
			fmt.Println(line)
		}
		printed = len(job.Logs)
		if interactive {
			fmt.Print("\r\033[K" + truncate(progressLine(job), width))
		}
	})
	if interactive {
		fmt.Println()
	}
	if err != nil {
		return err
	}
	if job.ResultLocator != "" {
		fmt.Printf("result: %s\n", job.ResultLocator)
	}
	if job.Status != "completed" {
		return fmt.Errorf("job %s %s", job.ID, job.Status)
	}
	return nil
}

func progressLine(job apiclient.Job) string {
	const barWidth = 30
	filled := job.Progress * barWidth / 100
	return fmt.Sprintf("[%s%s] %3d%% %s", strings.Repeat("#", filled), strings.Repeat(".", barWidth-filled), job.Progress, job.Status)
}

func truncate(s string, width int) string {
	if width <= 0 || len(s) < width {
		return s
	}
	return s[:width-1]
}

func printJob(w io.Writer, job apiclient.Job) {
	fmt.Fprintf(w, "id:        %s\n", job.ID)
	fmt.Fprintf(w, "channel:   %s\n", job.Channel)
	fmt.Fprintf(w, "platform:  %s\n", job.Platform)
	fmt.Fprintf(w, "status:    %s\n", job.Status)
	fmt.Fprintf(w, "progress:  %d%%\n", job.Progress)
	fmt.Fprintf(w, "artifact:  %s\n", job.Artifact.Filename)
	if job.ResultLocator != "" {
		fmt.Fprintf(w, "result:    %s\n", job.ResultLocator)
	}
	fmt.Fprintf(w, "created:   %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "updated:   %s\n", job.UpdatedAt.Format(time.RFC3339))
	if len(job.Logs) > 0 {
		fmt.Fprintln(w, "logs:")
		for _, line := range job.Logs {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func commandConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	apiBase := fs.String("api", "", "API base URL to store")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*apiBase) == "" {
		fmt.Println(cfg.APIBaseURL)
		return nil
	}
	cfg.APIBaseURL = strings.TrimSpace(*apiBase)
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("configuration saved")
	return nil
}

func commandSeal(args []string) error {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	in := fs.String("in", "", "File to seal (default stdin)")
	fs.Parse(args)

	key := os.Getenv("CREDENTIALS_KEY")
	if strings.TrimSpace(key) == "" {
		return errors.New("CREDENTIALS_KEY must be set")
	}
	var (
		plain []byte
		err   error
	)
	if strings.TrimSpace(*in) != "" {
		plain, err = os.ReadFile(*in)
	} else {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprint(os.Stderr, "Secret: ")
			plain, err = term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
		} else {
			plain, err = io.ReadAll(os.Stdin)
		}
	}
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	sealed, err := crypto.SealString(key, plain)
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBaseURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "shipctl", "config.json"), nil
}

func printUsage() {
	fmt.Printf("shipctl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	shipctl submit --channel <channel> --artifact <path> [--platform p] [--param key=value ...] [--watch]
	shipctl status --job <id> [--json]
	shipctl list [--channel c] [--status s] [--limit N]
	shipctl cancel --job <id>
	shipctl watch --job <id> [--interval 2s]
	shipctl config [--api http://localhost:4000]
	shipctl seal [--in key.json] (reads CREDENTIALS_KEY, prints enc:<base64>)
	shipctl version

All commands accept --api; SHIPIT_API overrides the stored base URL.
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
