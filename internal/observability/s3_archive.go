// Package observability provides an S3 archive for routing decisions.
package observability

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
)

// ArchiveConfig contains configuration for the decision archive.
type ArchiveConfig struct {
	Bucket      string // S3 bucket name
	Region      string // AWS region
	AccessKeyID string // optional; the default credential chain is used if empty
	SecretKey   string // optional
	Endpoint    string // custom S3 endpoint (for MinIO etc.)
	Prefix      string // prefix for S3 keys (e.g. "decisions")

	FlushInterval time.Duration // flush interval for batching
	BatchSize     int           // max batch size before flush
}

// ArchiveEntry is one archived routing decision.
type ArchiveEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	TaskType   string    `json:"task_type,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Model      string    `json:"model,omitempty"`
	Provider   string    `json:"provider"`
	Fallback   string    `json:"fallback,omitempty"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Reason     string    `json:"reason,omitempty"`
	LatencyMs  int64     `json:"latency_ms,omitempty"`
	Success    *bool     `json:"success,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// DecisionArchiver batches routing decisions and uploads them to S3 as
// date-partitioned JSONL objects.
type DecisionArchiver struct {
	config ArchiveConfig
	client *s3.Client
	logger *slog.Logger

	mu    sync.Mutex
	queue []ArchiveEntry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDecisionArchiver creates an archiver and starts its flush loop.
func NewDecisionArchiver(ctx context.Context, cfg ArchiveConfig, logger *slog.Logger) (*DecisionArchiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	a := &DecisionArchiver{
		config: cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		logger: logger,
		queue:  make([]ArchiveEntry, 0, cfg.BatchSize),
		stopCh: make(chan struct{}),
	}

	a.wg.Add(1)
	go a.flushLoop()

	return a, nil
}

// Enqueue adds one decision to the archive queue. The entry's timestamp
// defaults to now.
func (a *DecisionArchiver) Enqueue(entry ArchiveEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	a.mu.Lock()
	a.queue = append(a.queue, entry)
	full := len(a.queue) >= a.config.BatchSize
	a.mu.Unlock()

	if full {
		go a.flush(context.Background())
	}
}

// Shutdown flushes remaining entries and stops the archiver.
func (a *DecisionArchiver) Shutdown(ctx context.Context) error {
	close(a.stopCh)
	a.wg.Wait()
	return a.flush(ctx)
}

func (a *DecisionArchiver) flushLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.flush(context.Background()); err != nil {
				a.logger.Warn("decision archive flush failed", "error", err)
			}
		case <-a.stopCh:
			return
		}
	}
}

// flush uploads queued entries as one JSONL object.
func (a *DecisionArchiver) flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.queue) == 0 {
		a.mu.Unlock()
		return nil
	}
	entries := a.queue
	a.queue = make([]ArchiveEntry, 0, a.config.BatchSize)
	a.mu.Unlock()

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			continue
		}
	}

	key := a.generateKey(time.Now().UTC())

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: upload decisions: %w", err)
	}

	return nil
}

// generateKey produces a date-partitioned S3 key so archives are cheap to
// query by time range.
func (a *DecisionArchiver) generateKey(t time.Time) string {
	datePrefix := fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d",
		t.Year(), t.Month(), t.Day(), t.Hour())

	filename := fmt.Sprintf("decisions_%d.jsonl", t.UnixNano())

	if a.config.Prefix != "" {
		return path.Join(a.config.Prefix, datePrefix, filename)
	}
	return path.Join(datePrefix, filename)
}
