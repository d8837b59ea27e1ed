// Package archive exports FAILED transaction records to S3 for long-term,
// queryable retention once the operator has finished manual intervention
// (spec.md §7). The teacher has no direct equivalent of this (it never
// discards storage-engine state), so this package's shape comes straight
// from the aws-sdk-go-v2 s3 client's idiomatic PutObject usage, the library
// the rest of the pack (jordigilh-kubernaut's go.mod) brings in for blob
// retention.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sharedcode/ctxn"
)

// Archiver writes terminal FAILED records to an S3 bucket, keyed by
// transaction id, so the log store's own FAILED namespace can eventually be
// pruned without losing the audit trail.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds an Archiver writing into bucket under prefix.
func New(client *s3.Client, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Archive uploads rec as a JSON object and returns the object key it was
// written under.
func (a *Archiver) Archive(ctx context.Context, rec *ctxn.TransactionRecord) (string, error) {
	if rec.State != ctxn.StateFailed {
		return "", fmt.Errorf("archive: only FAILED records are archived, got %s", rec.State)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("archive: marshal %s: %w", rec.TxID, err)
	}
	key := fmt.Sprintf("%s/%s.json", a.prefix, rec.TxID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: strPtr("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	return key, nil
}

func strPtr(s string) *string { return &s }
