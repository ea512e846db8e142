package s3util

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeS3 keeps objects in memory.
type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	tagging string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	f.tagging = aws.ToString(in.Tagging)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: aws.String(f.types[key]),
	}, nil
}

func TestPutAndGetImage(t *testing.T) {
	fake := newFakeS3()
	s := NewImageStore(fake, nil, "insight-media")
	ctx := context.Background()

	if err := s.PutImage(ctx, "images/alice/1_a.jpg", []byte("jpeg-bytes"), "image/jpeg"); err != nil {
		t.Fatalf("PutImage: %v", err)
	}
	if fake.tagging != "Kind=analysis-image&Project=image-insight" {
		t.Errorf("tagging = %q", fake.tagging)
	}

	data, mimeType, err := s.GetImage(ctx, "images/alice/1_a.jpg", 0)
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if string(data) != "jpeg-bytes" || mimeType != "image/jpeg" {
		t.Errorf("GetImage = %q, %q", data, mimeType)
	}
}

func TestGetImageLimit(t *testing.T) {
	fake := newFakeS3()
	fake.objects["k"] = []byte("0123456789")
	s := NewImageStore(fake, nil, "b")

	if _, _, err := s.GetImage(context.Background(), "k", 5); !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
	if data, _, err := s.GetImage(context.Background(), "k", 10); err != nil || len(data) != 10 {
		t.Errorf("exact limit: %q, %v", data, err)
	}
	if _, _, err := s.GetImage(context.Background(), "missing", 0); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestPresignGetURL(t *testing.T) {
	client := s3.New(s3.Options{
		Region: "eu-west-3",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}, nil
		}),
	})
	s := NewImageStore(client, s3.NewPresignClient(client), "insight-media")

	url, err := s.PresignGetURL(context.Background(), "images/alice/1_a.jpg", 0)
	if err != nil {
		t.Fatalf("PresignGetURL: %v", err)
	}
	for _, want := range []string{"insight-media", "images/alice/1_a.jpg", "X-Amz-Expires=900", "X-Amz-Signature="} {
		if !strings.Contains(url, want) {
			t.Errorf("url %q lacks %q", url, want)
		}
	}
}

func TestPresignWithoutPresigner(t *testing.T) {
	s := NewImageStore(newFakeS3(), nil, "b")
	if _, err := s.PresignGetURL(context.Background(), "k", time.Minute); err == nil {
		t.Error("expected error")
	}
}
