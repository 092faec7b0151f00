package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/CoachPipe/internal/api"
	"github.com/BTreeMap/CoachPipe/internal/flow"
	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/knowledge"
	"github.com/BTreeMap/CoachPipe/internal/messaging"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/quota"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CoachPipe state data
	DefaultStateDir = "/var/lib/coachpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "coachpipe.db"
	// DefaultAPIAddr is the default HTTP listen address
	DefaultAPIAddr = ":8080"
	// DefaultMaxSteps bounds the tool-calling loop
	DefaultMaxSteps = models.DefaultMaxSteps
	// DefaultStateTTL is how long an idle dialogue survives in Redis
	DefaultStateTTL = 24 * time.Hour
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping CoachPipe")
	if err := run(ctx, config, flags); err != nil {
		slog.Error("CoachPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CoachPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	OpenAIKey        string
	FastModel        string
	CapableModel     string
	StateDir         string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	StateTTL         time.Duration
	QuotaLimit       int
	QuotaWindow      time.Duration
	MaxSteps         int
	KnowledgeBudget  int
	KnowledgeFile    string
	APIAddr          string
	AllowedOrigin    string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string
	GenAIDebug       bool
	ReasoningEffort  bool
	LogLevel         string
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	redisAddr     *string
	openaiKey     *string
	apiAddr       *string
	knowledgeFile *string
	quotaLimit    *int
	maxSteps      *int
	debug         *bool
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		FastModel:        os.Getenv("COACHPIPE_FAST_MODEL"),
		CapableModel:     os.Getenv("COACHPIPE_CAPABLE_MODEL"),
		StateDir:         os.Getenv("COACHPIPE_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		StateTTL:         util.ParseDurationEnv("COACHPIPE_STATE_TTL", DefaultStateTTL),
		QuotaLimit:       util.ParseIntEnv("COACHPIPE_QUOTA_LIMIT", 0),
		QuotaWindow:      util.ParseDurationEnv("COACHPIPE_QUOTA_WINDOW", quota.DefaultWindow),
		MaxSteps:         util.ParseIntEnv("COACHPIPE_MAX_STEPS", DefaultMaxSteps),
		KnowledgeBudget:  util.ParseIntEnv("COACHPIPE_KNOWLEDGE_BUDGET", knowledge.DefaultBudget),
		KnowledgeFile:    os.Getenv("COACHPIPE_KNOWLEDGE_FILE"),
		APIAddr:          os.Getenv("API_ADDR"),
		AllowedOrigin:    os.Getenv("ALLOWED_ORIGIN"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
		ReasoningEffort:  util.ParseBoolEnv("COACHPIPE_REASONING_EFFORT", false),
		LogLevel:         os.Getenv("COACHPIPE_LOG_LEVEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}

	slog.Debug("environment variables loaded",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"COACHPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_TYPE", store.DetectDSNType(config.DatabaseURL),
		"REDIS_ADDR_SET", config.RedisAddr != "",
		"COACHPIPE_QUOTA_LIMIT", config.QuotaLimit,
		"COACHPIPE_MAX_STEPS", config.MaxSteps,
		"API_ADDR", config.APIAddr,
		"TWILIO_SET", config.TwilioAccountSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	return parseFlags(flag.CommandLine, os.Args[1:], config)
}

func parseFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for CoachPipe data (overrides $COACHPIPE_STATE_DIR)"),
		dbDSN:         fs.String("db-dsn", config.DatabaseURL, "PostgreSQL DSN or SQLite path (overrides $DATABASE_URL)"),
		redisAddr:     fs.String("redis-addr", config.RedisAddr, "Redis address for conversation states and quota (overrides $REDIS_ADDR)"),
		openaiKey:     fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		knowledgeFile: fs.String("knowledge-file", config.KnowledgeFile, "YAML knowledge catalog (overrides $COACHPIPE_KNOWLEDGE_FILE)"),
		quotaLimit:    fs.Int("quota-limit", config.QuotaLimit, "generation calls per member per window, 0 disables (overrides $COACHPIPE_QUOTA_LIMIT)"),
		maxSteps:      fs.Int("max-steps", config.MaxSteps, "tool-calling step ceiling (overrides $COACHPIPE_MAX_STEPS)"),
		debug:         fs.Bool("genai-debug", config.GenAIDebug, "write model requests and responses under the state directory (overrides $GENAI_DEBUG)"),
	}
	if err := fs.Parse(args); err != nil {
		slog.Warn("flag parsing failed", "error", err)
	}

	// A default SQLite path follows a state directory given on the command line.
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	if *flags.dbDSN == defaultDSN && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_type", store.DetectDSNType(*flags.dbDSN),
		"redisAddr_set", *flags.redisAddr != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"quotaLimit", *flags.quotaLimit,
		"maxSteps", *flags.maxSteps)
	return flags
}

// run wires every module and serves until ctx is cancelled.
func run(ctx context.Context, config Config, flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	model, err := genai.NewClient(buildGenAIOptions(config, flags)...)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	st, err := openStore(config, flags)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("failed to close store", "error", cerr)
		}
	}()

	gate, err := buildQuotaGate(config, flags)
	if err != nil {
		return err
	}
	if closer, ok := gate.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	assembler, err := buildAssembler(config, flags)
	if err != nil {
		return err
	}

	tools := flow.NewToolRegistry(
		flow.NewMemberContextTool(st),
		flow.NewWorkoutHistoryTool(st),
	)
	dispatcher, err := flow.NewDispatcher(model,
		flow.WithProfileSupplier(st),
		flow.WithStateStore(st),
		flow.WithQuotaGate(gate),
		flow.WithAssembler(assembler),
		flow.WithTools(tools),
		flow.WithMaxSteps(*flags.maxSteps),
		flow.WithFinishCallback(logFinish),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	apiOpts, err := buildAPIOptions(config, st)
	if err != nil {
		return err
	}
	server, err := api.NewServer(dispatcher, apiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	return server.ListenAndServe(ctx, *flags.apiAddr)
}

func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if config.FastModel != "" || config.CapableModel != "" {
		opts = append(opts, genai.WithModels(config.FastModel, config.CapableModel))
	}
	if config.ReasoningEffort {
		opts = append(opts, genai.WithReasoningEffort(true))
	}
	if *flags.debug {
		opts = append(opts, genai.WithDebugMode(true), genai.WithStateDir(*flags.stateDir))
	}
	return opts
}

// openStore opens the SQL store and, when Redis is configured, moves
// conversation states onto Redis with a TTL.
func openStore(config Config, flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if store.DetectDSNType(dsn) == store.DSNTypeSQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	sqlStore, err := store.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if *flags.redisAddr == "" {
		return sqlStore, nil
	}
	states, err := store.NewRedisStateStore(
		store.WithRedisAddr(*flags.redisAddr, config.RedisPassword),
		store.WithStateTTL(config.StateTTL),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open redis state store: %w", err), sqlStore.Close())
	}
	slog.Info("conversation states held in redis", "ttl", config.StateTTL)
	return &store.Composite{Store: sqlStore, States: states}, nil
}

func buildQuotaGate(config Config, flags Flags) (quota.Gate, error) {
	if *flags.quotaLimit <= 0 {
		slog.Debug("quota disabled")
		return quota.AllowAll{}, nil
	}
	if *flags.redisAddr == "" {
		return nil, errors.New("quota limit requires a redis address")
	}
	gate, err := quota.NewRedisGate(
		quota.WithAddr(*flags.redisAddr, config.RedisPassword),
		quota.WithLimit(*flags.quotaLimit),
		quota.WithWindow(config.QuotaWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota gate: %w", err)
	}
	return gate, nil
}

func buildAssembler(config Config, flags Flags) (*knowledge.Assembler, error) {
	var (
		catalog *knowledge.Catalog
		err     error
	)
	if *flags.knowledgeFile != "" {
		catalog, err = knowledge.LoadCatalog(*flags.knowledgeFile)
	} else {
		catalog, err = knowledge.DefaultCatalog()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge catalog: %w", err)
	}
	return knowledge.NewAssembler(catalog, knowledge.WithBudget(config.KnowledgeBudget)), nil
}

func buildAPIOptions(config Config, st store.Store) ([]api.Option, error) {
	opts := []api.Option{api.WithStore(st)}
	if config.AllowedOrigin != "" {
		opts = append(opts, api.WithAllowedOrigins(strings.Split(config.AllowedOrigin, ",")...))
	}
	if config.TwilioAccountSID == "" {
		slog.Info("Twilio not configured, messaging webhook disabled")
		return opts, nil
	}
	sender, err := messaging.NewTwilioSender(
		messaging.WithAccountSID(config.TwilioAccountSID),
		messaging.WithAuthToken(config.TwilioAuthToken),
		messaging.WithFromNumber(config.TwilioFrom),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Twilio sender: %w", err)
	}
	opts = append(opts, api.WithSender(sender))
	if config.TwilioWebhookURL != "" {
		opts = append(opts, api.WithWebhookValidation(config.TwilioAuthToken, config.TwilioWebhookURL))
	} else {
		slog.Warn("TWILIO_WEBHOOK_URL not set, webhook signatures are not verified")
	}
	return opts, nil
}

func logFinish(ctx context.Context, ev flow.FinishEvent) {
	slog.Info("generation finished",
		"conversationID", ev.ConversationID,
		"memberID", ev.MemberID,
		"responseID", ev.ResponseID,
		"steps", ev.StepsUsed,
		"length", len(ev.Text))
}
