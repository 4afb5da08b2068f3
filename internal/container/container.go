package container

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brightpath/compliance-core/internal/api"
	"github.com/brightpath/compliance-core/internal/audit"
	"github.com/brightpath/compliance-core/internal/auth"
	"github.com/brightpath/compliance-core/internal/aws"
	"github.com/brightpath/compliance-core/internal/compliance"
	"github.com/brightpath/compliance-core/internal/config"
	"github.com/brightpath/compliance-core/internal/crypto"
	"github.com/brightpath/compliance-core/internal/database"
	"github.com/brightpath/compliance-core/internal/logging"
	"github.com/brightpath/compliance-core/internal/notifications"
	"github.com/brightpath/compliance-core/internal/orchestrator"
	"github.com/brightpath/compliance-core/internal/queue"
	"github.com/brightpath/compliance-core/internal/rbac"
	"github.com/brightpath/compliance-core/internal/retention"
	"github.com/brightpath/compliance-core/internal/store"
)

type Container struct {
	Config       *config.Config
	Database     *database.Database
	Store        store.Store
	Queue        *queue.TaskQueue
	RedisClient  *redis.Client
	JWTService   *auth.JWTService
	KeyVault     *crypto.KeyVault
	Encryption   *crypto.Service
	AuditLog     *audit.Log
	Dispatcher   *notifications.Dispatcher
	Engine       *rbac.Engine
	Gate         *compliance.Gate
	Scheduler    *retention.Scheduler
	Orchestrator *orchestrator.Orchestrator
	SESService   *aws.SESService
	S3Service    *aws.S3Service
	Server       *api.Server
	Worker       *queue.Worker
}

func New(cfg config.Config) (*Container, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, err
	}
	st := store.NewPostgresStoreFromPool(db.Pool())

	taskQueue, err := queue.NewQueue(&cfg.Redis)
	if err != nil {
		return nil, err
	}

	// The asynq task queue manages its own connection; this client is used
	// for worker health checks and queue inspection.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	jwtService, err := auth.NewJWTService([]byte(cfg.JWT.SigningKey), cfg.JWT.Issuer, cfg.JWT.Expiry)
	if err != nil {
		return nil, err
	}

	vault, err := crypto.NewKeyVault(cfg.Encryption.MasterSecret, cfg.Encryption.KeySalt, cfg.Encryption.Iterations)
	if err != nil {
		return nil, err
	}
	encryption := crypto.NewService(vault, st)

	dispatcher := notifications.NewDispatcher(taskQueue, cfg.Audit.SecurityEmail, notifications.NewEmailLookupFunc(st))

	auditLog := audit.New(st, audit.Config{
		FlushSize:     cfg.Audit.FlushSize,
		FlushInterval: cfg.Audit.FlushInterval,
		TamperSkewMax: cfg.Audit.TamperSkewMax,
	}, dispatcher)

	engine := rbac.NewEngine(st, rbac.DefaultRolePermissions())

	policies, err := retention.LoadPolicies(cfg.Retention.PolicyFile)
	if err != nil {
		return nil, err
	}
	scheduler := retention.NewScheduler(st, auditLog, policies, cfg.Retention.ApprovalGraceDays)

	gate := compliance.NewGate(st, coppaDeletionHook(scheduler))

	sesService, err := aws.NewSESService(cfg.AWS)
	if err != nil {
		return nil, err
	}
	s3Service, err := aws.NewS3Service(cfg.AWS)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(engine, gate, auditLog, st)

	worker := queue.NewWorker(&cfg.Redis, sesService, newExporter(scheduler, s3Service))

	server := api.NewServer(orch, gate, auditLog, scheduler, jwtService, db.Ping)

	logging.Info("Connected to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port)

	return &Container{
		Config:       &cfg,
		Database:     db,
		Store:        st,
		Queue:        taskQueue,
		RedisClient:  redisClient,
		JWTService:   jwtService,
		KeyVault:     vault,
		Encryption:   encryption,
		AuditLog:     auditLog,
		Dispatcher:   dispatcher,
		Engine:       engine,
		Gate:         gate,
		Scheduler:    scheduler,
		Orchestrator: orch,
		SESService:   sesService,
		S3Service:    s3Service,
		Server:       server,
		Worker:       worker,
	}, nil
}

func (c *Container) Cleanup() {
	if c.AuditLog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.AuditLog.Close(ctx); err != nil {
			logging.Error("Audit log drain failed", "error", err)
		}
		cancel()
		logging.Info("Audit log drained")
	}
	if c.Queue != nil {
		c.Queue.Close()
		logging.Info("Queue client closed")
	}
	if c.Worker != nil {
		c.Worker.Close()
		logging.Info("Worker closed")
	}
	if c.RedisClient != nil {
		c.RedisClient.Close()
		logging.Info("Redis client closed")
	}
	if c.Database != nil {
		c.Database.Close()
		logging.Info("Database connection closed")
	}
}

// coppaDeletionHook schedules immediate hard deletion of a child's data in
// every retainable category when parental consent is revoked.
func coppaDeletionHook(scheduler *retention.Scheduler) compliance.ScheduleDeletionFunc {
	return func(ctx context.Context, subjectID, requestedBy uuid.UUID) error {
		for _, category := range []string{
			retention.CategoryCollectedData,
			retention.CategoryAssessmentRecords,
			retention.CategoryStudentRecords,
		} {
			if _, err := scheduler.ScheduleDeletion(ctx, category, &subjectID, retention.ReasonCOPPARevocation, requestedBy, 0); err != nil {
				return err
			}
		}
		return nil
	}
}

type exportRunner struct {
	scheduler *retention.Scheduler
	uploader  retention.Uploader
}

func newExporter(scheduler *retention.Scheduler, uploader retention.Uploader) *exportRunner {
	return &exportRunner{scheduler: scheduler, uploader: uploader}
}

func (e *exportRunner) RunExport(ctx context.Context, payload queue.ExportDeliverPayload) error {
	subjectID, err := uuid.Parse(payload.SubjectID)
	if err != nil {
		return fmt.Errorf("invalid subject id: %w", err)
	}
	requestedBy, err := uuid.Parse(payload.RequestedBy)
	if err != nil {
		return fmt.Errorf("invalid requester id: %w", err)
	}
	_, err = e.scheduler.ExportUserData(ctx, subjectID, requestedBy, e.uploader, payload.KeyPrefix)
	return err
}
