package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/enclagent/frontdoor/interfaces"
)

// s3ObjectName is the ledger object stored under the configured prefix.
const s3ObjectName = "wallet_sessions.json"

// S3Store persists the wallet ledger as a single object in Amazon S3 or a
// compatible service.
type S3Store struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string

	ledger ledger
}

// NewS3Store creates an S3-backed wallet record store and loads the
// existing ledger object. A missing object is an empty store, not an error.
func NewS3Store(ctx context.Context, bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}

	s := &S3Store{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      prefix,
		log:         log,
		locationURI: uri,
		ledger:      newLedger(),
	}

	if err := s.loadInitial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *S3Store) loadInitial(ctx context.Context) error {
	start := time.Now()
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey()),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			s.log.Debug("No wallet ledger object yet", slog.String("bucket", s.bucketName))
			return nil
		}
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("reading wallet ledger object: %w", err)
	}

	if err := s.ledger.load(data); err != nil {
		return err
	}

	s.log.Info("Wallet ledger loaded from S3",
		slog.String("bucket", s.bucketName),
		slog.Int("wallets", len(s.ledger.wallets)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Lookup returns the record for a wallet, if one exists.
func (s *S3Store) Lookup(wallet interfaces.WalletAddress) (interfaces.WalletRecord, bool) {
	return s.ledger.lookup(wallet)
}

// Put rewrites the ledger object. S3 object writes are atomic, so a failed
// upload leaves the previous document intact.
func (s *S3Store) Put(ctx context.Context, wallet interfaces.WalletAddress, record interfaces.WalletRecord) error {
	data, err := s.ledger.serializeWith(wallet, record)
	if err != nil {
		return err
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(s.objectKey()),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	s.ledger.commit(wallet, record)
	s.log.Debug("Wallet ledger written to S3",
		slog.String("bucket", s.bucketName),
		slog.String("wallet", wallet.String()),
		slog.Uint64("version", record.Version))
	return nil
}

// Name returns a unique identifier for this store backend.
func (s *S3Store) Name() string {
	return "s3-" + s.bucketName
}

// LocationURI returns the URI that identifies this store.
func (s *S3Store) LocationURI() string {
	return s.locationURI
}

func (s *S3Store) objectKey() string {
	return path.Join(s.prefix, s3ObjectName)
}
