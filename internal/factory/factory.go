package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stronghold-security/internal/audit"
	"stronghold-security/internal/bucketing"
	"stronghold-security/internal/client"
	"stronghold-security/internal/compliance"
	"stronghold-security/internal/config"
	"stronghold-security/internal/encryption"
	"stronghold-security/internal/gdpr"
	"stronghold-security/internal/hashing"
	redisrepo "stronghold-security/internal/repository/redis"
	"stronghold-security/internal/repository/scylla"
	"stronghold-security/internal/session"
	"stronghold-security/internal/threat"
	"stronghold-security/internal/tls"
	"stronghold-security/internal/util"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Audit trail
	auditWriter  *audit.Writer
	auditStore   *audit.Store
	auditSweeper *audit.Sweeper

	// Repositories and caches
	eventRepository    *scylla.EventRepository
	patternRepository  *scylla.PatternRepository
	alertRepository    *scylla.AlertRepository
	reportRepository   *scylla.ReportRepository
	gdprRepository     *scylla.GDPRRepository
	sessionRepository  *scylla.SessionRepository
	documentRepository *scylla.DocumentRepository
	sessionCache       *redisrepo.SessionCache
	lockoutCache       *redisrepo.LockoutCache
	totpCache          *redisrepo.TOTPCache

	// Domain components
	scorer          *threat.Scorer
	patternCache    *threat.PatternCache
	alertManager    *threat.AlertManager
	alertIndexer    *threat.ESAlertIndexer
	executor        *threat.Executor
	matcher         *threat.Matcher
	sessionManager  *session.Manager
	consentManager  *gdpr.ConsentManager
	requestManager  *gdpr.RequestManager
	vault           *encryption.Vault
	reportGenerator *compliance.Generator

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(cfg.Server)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()
	factory.initializeRepositories()
	factory.initializeDomain()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if client, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = client
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if client, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = client
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch
	if client, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = client
		if err := f.esClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if client, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = client
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, bucketing and the
// audit trail
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		cancel()
		if err != nil {
			util.Warn("Failed to load AWS config - falling back to local key derivation", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
			util.Info("KMS client initialized", util.String("region", f.config.KMS.Region))
		}
	}

	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	if f.clickhouseClient != nil {
		f.auditWriter = audit.NewWriter(f.clickhouseClient, f.config.Audit)
		f.auditStore = audit.NewStore(f.clickhouseClient)
		f.auditSweeper = audit.NewSweeper(f.auditStore, f.config.Audit.RetentionSweep)
	}

	if f.config.IsProduction() {
		f.hasher.StartPepperRotation()
	}

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("audit_initialized", f.auditWriter != nil),
	)
}

func (f *Factory) initializeRepositories() {
	logger := util.Get()

	f.eventRepository = scylla.NewEventRepository(f.scyllaClient, f.bucketingManager, logger)
	f.patternRepository = scylla.NewPatternRepository(f.scyllaClient, logger)
	f.alertRepository = scylla.NewAlertRepository(f.scyllaClient, logger)
	f.reportRepository = scylla.NewReportRepository(f.scyllaClient, logger)
	f.gdprRepository = scylla.NewGDPRRepository(f.scyllaClient, logger)
	f.sessionRepository = scylla.NewSessionRepository(f.scyllaClient, logger)
	f.documentRepository = scylla.NewDocumentRepository(f.scyllaClient, logger)

	f.sessionCache = redisrepo.NewSessionCache(f.redisClient)
	f.lockoutCache = redisrepo.NewLockoutCache(f.redisClient)
	f.totpCache = redisrepo.NewTOTPCache(f.redisClient)
}

// initializeDomain wires the domain components. The session manager
// emits events into the matcher and the matcher's executor terminates
// sessions, so the terminator is set after both sides exist.
func (f *Factory) initializeDomain() {
	var notifier threat.Notifier
	var publisher threat.EventPublisher
	var gdprNotifier gdpr.Notifier
	if f.kafkaProducer != nil {
		notifier = f.kafkaProducer
		publisher = f.kafkaProducer
		gdprNotifier = f.kafkaProducer
	}

	var indexer threat.AlertIndexer
	if f.esClient != nil {
		f.alertIndexer = threat.NewESAlertIndexer(f.esClient)
		indexer = f.alertIndexer
	}

	// A nil *audit.Writer wrapped in a non-nil interface would defeat the
	// consumers' nil checks, so the interfaces are only assigned when the
	// audit trail is actually up.
	var auditRecorder threat.AuditRecorder
	var gdprAudit gdpr.AuditRecorder
	var auditReader compliance.AuditReader
	if f.auditWriter != nil {
		auditRecorder = f.auditWriter
		gdprAudit = f.auditWriter
	}
	if f.auditStore != nil {
		auditReader = f.auditStore
	}

	f.scorer = threat.NewScorer(f.config.Threat, f.eventRepository)
	f.patternCache = threat.NewPatternCache(f.patternRepository, f.config.Threat.PatternCacheTTL)
	f.alertManager = threat.NewAlertManager(f.alertRepository, indexer)
	f.executor = threat.NewExecutor(notifier, auditRecorder, f.lockoutCache, nil)
	f.matcher = threat.NewMatcher(f.eventRepository, f.patternCache, f.scorer, f.alertManager, f.executor, publisher)

	f.sessionManager = session.NewManager(f.sessionRepository, f.sessionCache, f.lockoutCache,
		f.totpCache, f.matcher, f.encryptionManager, f.config.Session)
	f.executor.SetSessionTerminator(f.sessionManager)

	f.consentManager = gdpr.NewConsentManager(f.gdprRepository, gdprAudit)
	f.requestManager = gdpr.NewRequestManager(f.gdprRepository, f.gdprRepository, f.consentManager,
		f.documentRepository, gdprAudit, gdprNotifier, f.lockoutCache, f.hasher, f.config.GDPR)

	f.vault = encryption.NewVault(f.encryptionManager, f.documentRepository, f.matcher)
	f.reportGenerator = compliance.NewGenerator(auditReader, f.reportRepository, f.gdprRepository, 0)
}

// Bootstrap seeds the default threat patterns and the personal data
// field catalog
func (f *Factory) Bootstrap(ctx context.Context) error {
	if err := threat.SeedDefaultPatterns(ctx, f.patternRepository); err != nil {
		return fmt.Errorf("failed to seed threat patterns: %w", err)
	}
	if err := gdpr.SeedDefaultFields(ctx, f.gdprRepository); err != nil {
		return fmt.Errorf("failed to seed personal data fields: %w", err)
	}
	return nil
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	} else {
		healthErrors["elasticsearch"] = fmt.Errorf("elasticsearch client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.hasher == nil {
		healthErrors["hasher"] = fmt.Errorf("hasher not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}
	if f.auditWriter == nil {
		healthErrors["audit"] = fmt.Errorf("audit writer not initialized")
	}

	return healthErrors
}

// ==============================
// Other Utility Methods
// ==============================

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.auditSweeper != nil {
			f.auditSweeper.Stop()
			util.Info("Audit sweeper stopped")
		}

		if f.auditWriter != nil {
			f.auditWriter.Stop()
			util.Info("Audit writer stopped")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

// Getters

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) EncryptionManager() *encryption.EncryptionManager {
	return f.encryptionManager
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}

func (f *Factory) Matcher() *threat.Matcher {
	return f.matcher
}

func (f *Factory) EventRepository() *scylla.EventRepository {
	return f.eventRepository
}

func (f *Factory) PatternRepository() *scylla.PatternRepository {
	return f.patternRepository
}

func (f *Factory) PatternCache() *threat.PatternCache {
	return f.patternCache
}

func (f *Factory) AlertManager() *threat.AlertManager {
	return f.alertManager
}

// AlertSearcher returns the alert search backend, or nil when
// Elasticsearch is not configured.
func (f *Factory) AlertSearcher() threat.AlertSearcher {
	if f.alertIndexer == nil {
		return nil
	}
	return f.alertIndexer
}

func (f *Factory) SessionManager() *session.Manager {
	return f.sessionManager
}

func (f *Factory) ConsentManager() *gdpr.ConsentManager {
	return f.consentManager
}

func (f *Factory) RequestManager() *gdpr.RequestManager {
	return f.requestManager
}

func (f *Factory) Vault() *encryption.Vault {
	return f.vault
}

func (f *Factory) DocumentRepository() *scylla.DocumentRepository {
	return f.documentRepository
}

func (f *Factory) ReportGenerator() *compliance.Generator {
	return f.reportGenerator
}

func (f *Factory) AuditStore() *audit.Store {
	return f.auditStore
}
