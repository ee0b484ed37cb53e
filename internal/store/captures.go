package store

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const captureRefPrefix = "gridfs:"

// CaptureStore keeps punch photos in a GridFS bucket and hands back a
// reference string. Records never hold image bytes.
type CaptureStore struct {
	bucket *mongo.GridFSBucket
}

func NewCaptureStore(db *MongoDB) *CaptureStore {
	return &CaptureStore{bucket: db.db.GridFSBucket(options.GridFSBucket().SetName("captures"))}
}

func (s *CaptureStore) SavePhoto(ctx context.Context, personID, contentType string, data []byte) (string, error) {
	opts := options.GridFSUpload().SetMetadata(bson.D{
		{Key: "person_id", Value: personID},
		{Key: "content_type", Value: contentType},
	})
	id, err := s.bucket.UploadFromStream(ctx, personID+"-punch", bytes.NewReader(data), opts)
	if err != nil {
		return "", fmt.Errorf("upload capture: %w", err)
	}
	return captureRefPrefix + id.Hex(), nil
}

// OpenPhoto reads back a stored capture by reference.
func (s *CaptureStore) OpenPhoto(ctx context.Context, ref string) ([]byte, error) {
	hex, ok := strings.CutPrefix(ref, captureRefPrefix)
	if !ok {
		return nil, fmt.Errorf("unknown capture reference %q", ref)
	}
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid capture reference: %w", err)
	}
	var buf bytes.Buffer
	if _, err := s.bucket.DownloadToStream(ctx, id, &buf); err != nil {
		return nil, fmt.Errorf("download capture: %w", err)
	}
	return buf.Bytes(), nil
}
