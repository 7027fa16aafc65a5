package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-export/model"
)

// Config captures all options required to run an export batch.
type Config struct {
	EmlDir             string
	MboxPath           string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPFolder         string

	OutDir           string
	TargetsFile      string
	TemplateDir      string
	KnownSendersFile string

	Concurrency        int
	MaxAttachmentBytes int64
	AllowedKinds       []string
	NameCollision      string

	SkipExported bool
	DryRun       bool
	LogLevel     string
	LogDir       string

	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string

	Targets []model.ExportTarget
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("eml-dir", "", "Directory of standalone message files (*.eml) to export")
	flags.String("mbox", "", "Path to an mbox archive to export")
	flags.String("imap-host", "", "IMAP server hostname of the mailbox to export")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-folder", "INBOX", "Mailbox folder to export")
	flags.String("out", "", "Destination root for exported artifacts")
	flags.String("targets", "", "YAML file with export targets and attachment policy")
	flags.String("template-dir", "", "Directory of custom render templates (*.tmpl)")
	flags.String("known-senders", "", "CSV of known sender names and addresses")
	flags.Int("concurrency", 4, "Number of messages exported in parallel")
	flags.Int64("max-attachment-bytes", 0, "Drop attachments larger than this many bytes (0 = no limit)")
	flags.StringArray("allowed-kinds", nil, "Only keep attachments of these media kinds (default: all)")
	flags.String("name-collision", "suffix", "Duplicate attachment name policy: suffix or skip")
	flags.Bool("skip-exported", false, "Skip messages already listed in the destination manifest")
	flags.Bool("dry-run", false, "Resolve and report without writing artifacts")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (default: stdout only)")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")

	return cmd.MarkFlagRequired("out")
}

// LoadConfig converts the parsed Cobra flags into a Config struct with
// validation. Targets and attachment policy from the YAML file take
// precedence over the corresponding flags.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	var cfg Config
	var err error

	if cfg.EmlDir, err = flags.GetString("eml-dir"); err != nil {
		return Config{}, err
	}
	if cfg.MboxPath, err = flags.GetString("mbox"); err != nil {
		return Config{}, err
	}
	if cfg.IMAPHost, err = flags.GetString("imap-host"); err != nil {
		return Config{}, err
	}
	if cfg.IMAPPort, err = flags.GetInt("imap-port"); err != nil {
		return Config{}, err
	}
	if cfg.IMAPUser, err = flags.GetString("imap-user"); err != nil {
		return Config{}, err
	}
	if cfg.IMAPPass, err = flags.GetString("imap-pass"); err != nil {
		return Config{}, err
	}
	if cfg.UseTLS, err = flags.GetBool("use-tls"); err != nil {
		return Config{}, err
	}
	if cfg.InsecureSkipVerify, err = flags.GetBool("insecure-skip-verify"); err != nil {
		return Config{}, err
	}
	if cfg.IMAPFolder, err = flags.GetString("imap-folder"); err != nil {
		return Config{}, err
	}
	if cfg.OutDir, err = flags.GetString("out"); err != nil {
		return Config{}, err
	}
	if cfg.TargetsFile, err = flags.GetString("targets"); err != nil {
		return Config{}, err
	}
	if cfg.TemplateDir, err = flags.GetString("template-dir"); err != nil {
		return Config{}, err
	}
	if cfg.KnownSendersFile, err = flags.GetString("known-senders"); err != nil {
		return Config{}, err
	}
	if cfg.Concurrency, err = flags.GetInt("concurrency"); err != nil {
		return Config{}, err
	}
	if cfg.MaxAttachmentBytes, err = flags.GetInt64("max-attachment-bytes"); err != nil {
		return Config{}, err
	}
	if cfg.AllowedKinds, err = flags.GetStringArray("allowed-kinds"); err != nil {
		return Config{}, err
	}
	if cfg.NameCollision, err = flags.GetString("name-collision"); err != nil {
		return Config{}, err
	}
	if cfg.SkipExported, err = flags.GetBool("skip-exported"); err != nil {
		return Config{}, err
	}
	if cfg.DryRun, err = flags.GetBool("dry-run"); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
		return Config{}, err
	}
	if cfg.LogDir, err = flags.GetString("log-dir"); err != nil {
		return Config{}, err
	}
	if cfg.IncludeHeader, err = flags.GetStringArray("include-header"); err != nil {
		return Config{}, err
	}
	if cfg.IncludeBody, err = flags.GetStringArray("include-body"); err != nil {
		return Config{}, err
	}
	if cfg.ExcludeHeader, err = flags.GetStringArray("exclude-header"); err != nil {
		return Config{}, err
	}
	if cfg.ExcludeBody, err = flags.GetStringArray("exclude-body"); err != nil {
		return Config{}, err
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	cfg.OutDir = filepath.Clean(cfg.OutDir)

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	cfg.Targets = DefaultTargets()
	if cfg.TargetsFile != "" {
		if err := applyTargetsFile(&cfg); err != nil {
			return Config{}, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultTargets is one document target plus the batch summary table.
func DefaultTargets() []model.ExportTarget {
	return []model.ExportTarget{
		{Format: model.FormatDocument, Dir: "messages"},
		{Format: model.FormatTable},
	}
}

func validateConfig(cfg Config) error {
	sources := 0
	if cfg.EmlDir != "" {
		sources++
	}
	if cfg.MboxPath != "" {
		sources++
	}
	if cfg.IMAPHost != "" {
		sources++
	}
	if sources == 0 {
		return fmt.Errorf("one of --eml-dir, --mbox or --imap-host is required")
	}
	if sources > 1 {
		return fmt.Errorf("--eml-dir, --mbox and --imap-host are mutually exclusive")
	}

	if cfg.IMAPHost != "" {
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required with --imap-host")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}

	if cfg.OutDir == "" {
		return fmt.Errorf("--out is required")
	}
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("--concurrency must be positive")
	}

	switch cfg.NameCollision {
	case "suffix", "skip":
	default:
		return fmt.Errorf("invalid --name-collision: %s", cfg.NameCollision)
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	hasTable := false
	for _, t := range cfg.Targets {
		switch t.Format {
		case model.FormatDocument:
		case model.FormatTable:
			hasTable = true
		default:
			return fmt.Errorf("invalid target format: %s", t.Format)
		}
	}
	if !hasTable {
		return fmt.Errorf("at least one table target is required for the batch summary")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// LoadKnownSenders reads the known-senders table: a CSV of sender name and
// sender address, used to fill in addresses the message headers lack.
func LoadKnownSenders(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open known senders: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse known senders: %w", err)
	}

	senders := make(map[string]string)
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		name := strings.TrimSpace(row[0])
		addr := strings.TrimSpace(row[1])
		if i == 0 && strings.EqualFold(name, "sender_name") {
			continue
		}
		if name == "" || !strings.Contains(addr, "@") {
			continue
		}
		senders[name] = addr
	}
	return senders, nil
}
