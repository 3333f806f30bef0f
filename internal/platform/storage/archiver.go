package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/hanko-field/cartengine/internal/services"
)

const archiveContentType = "application/json"

// ObjectAttrs are the attributes written alongside an archived object.
type ObjectAttrs struct {
	ContentType string
	Metadata    map[string]string
}

// objectOpener opens a create-only writer for bucket/object.
type objectOpener func(ctx context.Context, bucket, object string, attrs ObjectAttrs) io.WriteCloser

// OrderArchiver writes a JSON snapshot of each completed order to Cloud Storage. Objects are
// created once; archiving the same order again is a no-op.
type OrderArchiver struct {
	bucket string
	prefix string
	open   objectOpener
	now    func() time.Time
}

// NewOrderArchiver archives into bucket under prefix.
func NewOrderArchiver(client *gcs.Client, bucket, prefix string) (*OrderArchiver, error) {
	if client == nil {
		return nil, errors.New("order archiver: storage client is required")
	}
	open := func(ctx context.Context, bucket, object string, attrs ObjectAttrs) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = attrs.ContentType
		w.Metadata = attrs.Metadata
		return w
	}
	return newOrderArchiver(bucket, prefix, open)
}

func newOrderArchiver(bucket, prefix string, open objectOpener) (*OrderArchiver, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("order archiver: bucket is required")
	}
	return &OrderArchiver{
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		open:   open,
		now:    time.Now,
	}, nil
}

// ArchiveCompletedOrder stores the cart as it was when it became an order.
func (a *OrderArchiver) ArchiveCompletedOrder(ctx context.Context, cart services.Cart) error {
	if !cart.IsCompleted {
		return fmt.Errorf("order archiver: cart %s is not completed", cart.Number)
	}
	object, err := ArchiveObjectPath(a.prefix, cart, a.now())
	if err != nil {
		return err
	}

	payload, err := json.Marshal(newOrderSnapshot(cart))
	if err != nil {
		return fmt.Errorf("order archiver: encode snapshot: %w", err)
	}

	w := a.open(ctx, a.bucket, object, ObjectAttrs{
		ContentType: archiveContentType,
		Metadata: map[string]string{
			"cartId":     cart.ID,
			"cartNumber": cart.Number,
		},
	})
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return fmt.Errorf("order archiver: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("order archiver: close %s: %w", object, err)
	}
	return nil
}

// ArchiveObjectPath lays snapshots out by order month: <prefix>/<yyyy>/<mm>/<number>.json.
// The order date wins over fallback.
func ArchiveObjectPath(prefix string, cart services.Cart, fallback time.Time) (string, error) {
	number := strings.TrimSpace(cart.Number)
	if number == "" || strings.ContainsAny(number, "/\\") {
		return "", fmt.Errorf("order archiver: invalid cart number %q", cart.Number)
	}
	ordered := fallback
	if cart.DateOrdered != nil && !cart.DateOrdered.IsZero() {
		ordered = *cart.DateOrdered
	}
	ordered = ordered.UTC()
	return path.Join(prefix, fmt.Sprintf("%04d", ordered.Year()), fmt.Sprintf("%02d", int(ordered.Month())), number+".json"), nil
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
