package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"cardsync-go/internal/agent"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory bucket standing in for both the client and the uploader.
type fakeS3 struct {
	mu        sync.Mutex
	bucket    string
	objects   map[string][]byte
	bucketErr error
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: make(map[string][]byte)}
}

func (f *fakeS3) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &manager.UploadOutput{Key: in.Key}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.bucketErr != nil {
		return nil, f.bucketErr
	}
	if aws.ToString(in.Bucket) != f.bucket {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Vault(t *testing.T) {
	testVaultContract(t, func(t *testing.T) agent.Vault {
		f := newFakeS3("footage")
		return newS3Vault("s3", "footage", "agents/a1", f, f)
	})

	t.Run("object key", func(t *testing.T) {
		f := newFakeS3("footage")
		v := newS3Vault("s3", "footage", "/agents/a1/", f, f)
		if err := v.PutManifest("s-1", bytes.NewReader([]byte("m")), 1); err != nil {
			t.Fatalf("PutManifest() error = %v", err)
		}
		if _, ok := f.objects["agents/a1/manifests/s-1.manifest"]; !ok {
			t.Errorf("objects = %v, want key agents/a1/manifests/s-1.manifest", f.objects)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		f := newFakeS3("footage")
		v := newS3Vault("s3", "footage", "", f, f)
		if err := v.ValidateSetup(); err != nil {
			t.Fatalf("ValidateSetup() error = %v", err)
		}
		f.bucketErr = errors.New("access denied")
		if err := v.ValidateSetup(); err == nil {
			t.Error("ValidateSetup() error = nil, want access denied")
		}
	})
}
