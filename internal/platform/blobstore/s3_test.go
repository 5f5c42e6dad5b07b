package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentType:   aws.String(f.types[aws.ToString(in.Key)]),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3Store_PutUsesPrefix(t *testing.T) {
	client := newFakeS3()
	s := NewS3Store(client, "bucket", "clinic")

	if _, err := s.Put(context.Background(), "id-images/s1/a.png", "image/png", strings.NewReader("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := client.objects["clinic/id-images/s1/a.png"]; !ok {
		t.Errorf("expected prefixed key, have %v", client.objects)
	}
}

func TestS3Store_RoundTrip(t *testing.T) {
	client := newFakeS3()
	s := NewS3Store(client, "bucket", "clinic")
	ctx := context.Background()

	if _, err := s.Put(ctx, "a.png", "image/png", strings.NewReader("data")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err := s.Exists(ctx, "a.png")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	rc, obj, err := s.Get(ctx, "a.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	if obj.ContentType != "image/png" || obj.Size != 4 {
		t.Errorf("unexpected object %+v", obj)
	}

	if err := s.Delete(ctx, "a.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "a.png"); ok {
		t.Error("expected missing after delete")
	}
	if _, _, err := s.Get(ctx, "a.png"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestS3Store_PutError(t *testing.T) {
	client := newFakeS3()
	client.putErr = errors.New("access denied")
	s := NewS3Store(client, "bucket", "")

	if _, err := s.Put(context.Background(), "a.png", "image/png", strings.NewReader("x")); err == nil {
		t.Fatal("expected error")
	}
}

func TestS3Store_RejectsBadKey(t *testing.T) {
	s := NewS3Store(newFakeS3(), "bucket", "")
	if _, err := s.Exists(context.Background(), "../x"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}
