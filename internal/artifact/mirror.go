package artifact

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// MirrorConfig configures the optional S3 artifact mirror.
type MirrorConfig struct {
	Endpoint  string // empty for AWS; set for S3-compatible stores
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// Mirror uploads saved artifacts to an S3-compatible object store in the
// background. The local store stays authoritative: mirror failures are
// logged and never fail the job that produced the artifact.
type Mirror struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger

	// mu serializes Enqueue against Stop so a send can never race the close.
	mu      sync.Mutex
	ch      chan mirrorJob
	stopped bool
}

type mirrorJob struct {
	key         string
	data        []byte
	contentType string
}

// NewMirror creates an S3 mirror from config and verifies bucket access.
func NewMirror(cfg MirrorConfig, log zerolog.Logger) (*Mirror, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	m := &Mirror{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		ch:     make(chan mirrorJob, 64),
		log:    log.With().Str("component", "artifact-mirror").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &m.bucket}); err != nil {
		return nil, fmt.Errorf("s3 bucket %s: %w", m.bucket, err)
	}

	return m, nil
}

// Start launches the upload worker.
func (m *Mirror) Start() {
	go m.worker()
	m.log.Info().Str("bucket", m.bucket).Msg("artifact mirror started")
}

// Stop signals the worker to drain. Safe to call more than once and
// concurrently with Enqueue.
func (m *Mirror) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.ch)
}

// Enqueue schedules an upload. Non-blocking — drops with a warning when the
// queue is full, since the artifact is already safe on local disk. After
// Stop it is a no-op.
func (m *Mirror) Enqueue(key string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	select {
	case m.ch <- mirrorJob{key: key, data: data, contentType: contentType}:
	default:
		m.log.Warn().Str("key", key).Msg("mirror queue full, skipping (artifact safe on disk)")
	}
}

func (m *Mirror) worker() {
	for job := range m.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		key := m.objectKey(job.key)
		_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      &m.bucket,
			Key:         &key,
			Body:        bytes.NewReader(job.data),
			ContentType: &job.contentType,
		})
		cancel()
		if err != nil {
			m.log.Error().Err(err).Str("key", key).Msg("mirror upload failed (artifact safe on disk)")
			continue
		}
		m.log.Debug().Str("key", key).Msg("artifact mirrored")
	}
}

func (m *Mirror) objectKey(key string) string {
	if m.prefix != "" {
		return m.prefix + "/" + key
	}
	return key
}
