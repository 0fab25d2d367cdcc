package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// partSize is the multipart chunk size. 8 MiB keeps memory bounded while
// staying above the S3 5 MiB minimum.
const partSize int64 = 8 * 1024 * 1024

// Writer implements domain.BlobWriter. Every upload goes through the SDK's
// upload manager, which streams small archives in one request and switches
// to multipart transparently when a month's records outgrow one part.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.S3(), func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		bucket: c.Bucket(),
	}
}

// Put uploads data under the given object path.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
