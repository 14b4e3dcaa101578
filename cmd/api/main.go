package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/katkisiz/api/internal/di"
	"github.com/katkisiz/api/internal/handlers"
	"github.com/katkisiz/api/internal/platform/auth"
	"github.com/katkisiz/api/internal/platform/config"
	pfirestore "github.com/katkisiz/api/internal/platform/firestore"
	"github.com/katkisiz/api/internal/platform/idempotency"
	"github.com/katkisiz/api/internal/platform/jobs"
	"github.com/katkisiz/api/internal/platform/metrics"
	"github.com/katkisiz/api/internal/platform/observability"
	"github.com/katkisiz/api/internal/platform/requestctx"
	"github.com/katkisiz/api/internal/platform/secrets"
	platformstorage "github.com/katkisiz/api/internal/platform/storage"
	"github.com/katkisiz/api/internal/platform/vision"
	"github.com/katkisiz/api/internal/repositories"
	firestoreRepo "github.com/katkisiz/api/internal/repositories/firestore"
	"github.com/katkisiz/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["LOG_LEVEL"], envValues["API_SERVICE_NAME"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	registry := metrics.NewRegistry()

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	infra := di.Infrastructure{
		Metrics: registry,
		Logger:  logger,
		Build:   buildInfo,
	}

	inspector, err := platformstorage.NewInspector(storageClient)
	if err != nil {
		logger.Fatal("failed to initialise storage inspector", zap.Error(err))
	}
	infra.Objects = inspector

	if signer := buildUploadSigner(ctx, logger.Named("storage"), cfg, envValues); signer != nil {
		signedURLClient, err := platformstorage.NewClient(signer)
		if err != nil {
			logger.Fatal("failed to initialise signed url client", zap.Error(err))
		}
		infra.Signer = signedURLClient
	}

	if cfg.Vision.Enabled {
		ocr, err := vision.New(ctx, vision.Config{
			APIKey:        cfg.Vision.APIKey,
			Endpoint:      cfg.Vision.Endpoint,
			Timeout:       cfg.Vision.Timeout,
			LanguageHints: cfg.Vision.LanguageHints,
		})
		if err != nil {
			logger.Fatal("failed to initialise vision client", zap.Error(err))
		}
		infra.OCR = ocr
	} else {
		logger.Warn("vision disabled; image analyses will report unavailable")
	}

	var pubsubClient *pubsub.Client
	var alternativesTopic *pubsub.Topic
	if topicID := strings.TrimSpace(cfg.PubSub.AlternativesTopic); topicID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		alternativesTopic = pubsubClient.Topic(topicID)
		publisher, err := jobs.NewPubSubAlternativesPublisher(alternativesTopic)
		if err != nil {
			logger.Fatal("failed to initialise alternatives publisher", zap.Error(err))
		}
		infra.Alternatives = publisher
	}

	healthRepo, err := newHealthRepository(firestoreProvider, storageClient, cfg.Storage.ImagesBucket, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	repoRegistry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, repoRegistry, infra)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	logger.Info("knowledge base loaded",
		zap.String("version", container.KnowledgeBase.Version()),
		zap.Int("records", container.KnowledgeBase.Len()),
	)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithFallbackRole(auth.RoleUser))
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, registry)

	submissionStore, err := idempotency.NewFirestoreStore(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	authRateLimit := handlers.RateLimitMiddleware(cfg.RateLimits.AuthenticatedPerMinute, time.Now)
	replay := idempotency.Middleware(submissionStore)
	analysisHandlers := handlers.NewAnalysisHandlers(authenticator, container.Services.Analyses,
		handlers.WithAnalysisMiddlewares(authRateLimit, replay),
	)
	uploadHandlers := handlers.NewUploadHandlers(authenticator, container.Services.Uploads,
		handlers.WithUploadMiddlewares(authRateLimit, replay),
	)
	additiveHandlers := handlers.NewAdditiveHandlers(container.Services.Additives)
	storageHandlers := handlers.NewStorageEventHandlers(container.Services.Analyses)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.LocaleMiddleware,
		observability.RequestLoggerMiddleware(registry.ObserveRequest),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(registry.Handler()),
		handlers.WithPublicRoutes(additiveHandlers.Routes, analysisHandlers.PublicRoutes),
		handlers.WithPublicMiddlewares(handlers.RateLimitMiddleware(cfg.RateLimits.PublicPerMinute, time.Now)),
		handlers.WithAnalysisRoutes(analysisHandlers.Routes),
		handlers.WithUploadRoutes(uploadHandlers.Routes),
		handlers.WithInternalRoutes(storageHandlers.Routes),
	}
	internalMiddlewares := []func(http.Handler) http.Handler{
		handlers.RateLimitMiddleware(cfg.RateLimits.InternalPerMinute, time.Now),
	}
	if oidcMiddleware != nil {
		internalMiddlewares = append([]func(http.Handler) http.Handler{oidcMiddleware}, internalMiddlewares...)
	}
	opts = append(opts, handlers.WithInternalMiddlewares(internalMiddlewares...))

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("katkisiz api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	if alternativesTopic != nil {
		alternativesTopic.Stop()
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// buildUploadSigner prefers a service account key file and falls back to IAM signBlob for the configured email.
func buildUploadSigner(ctx context.Context, logger *zap.Logger, cfg config.Config, env map[string]string) platformstorage.Signer {
	if path := strings.TrimSpace(env["API_STORAGE_SIGNER_KEY_FILE"]); path != "" {
		signer, err := platformstorage.NewKeySignerFromFile(path)
		if err != nil {
			logger.Fatal("failed to parse storage signer key", zap.Error(err))
		}
		return signer
	}
	if email := strings.TrimSpace(cfg.Storage.SignerEmail); email != "" {
		signer, err := platformstorage.NewIAMSigner(ctx, email)
		if err != nil {
			logger.Fatal("failed to initialise iam signer", zap.Error(err))
		}
		return signer
	}
	logger.Warn("storage signer not configured; upload urls disabled")
	return nil
}

func newHealthRepository(provider *pfirestore.Provider, storageClient *cloudstorage.Client, bucket string, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check:    provider.Ping,
		})
	}
	if storageClient != nil && strings.TrimSpace(bucket) != "" {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "storage",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := storageClient.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, recorder auth.VerificationRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(logger),
		auth.WithOIDCMetrics(recorder),
		auth.WithAllowedServiceAccounts(cfg.Security.OIDC.AllowedEmails...),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS"))
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	versionPins := secretVersionPinsFromEnv(env)
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.GetMeterProvider().Meter("github.com/katkisiz/api/secrets")),
	}
	if len(projectMap) > 0 {
		lowered := make(map[string]string, len(projectMap))
		for label, project := range projectMap {
			lowered[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if len(versionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(versionPins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve when they are configured as secret references.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if env != nil && strings.TrimSpace(env["API_VISION_API_KEY"]) != "" {
		required = append(required, "Vision.APIKey")
	}
	sort.Strings(required)
	return required
}

func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_VERSION_PINS"]
	}
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
