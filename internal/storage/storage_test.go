package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"soundshelf-snapshots", "soundshelf-snapshots/user-7/run-1.json"},
		{"/nested/prefix/", "nested/prefix/user-7/run-1.json"},
		{"", "user-7/run-1.json"},
	}
	for _, tt := range tests {
		if got := SnapshotKey(tt.prefix, 7, "run-1"); got != tt.want {
			t.Errorf("SnapshotKey(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}

	if !strings.HasPrefix(SnapshotKey("p", 7, "r"), UserPrefix("p", 7)) {
		t.Error("snapshot keys must live under the user prefix")
	}
	if strings.HasPrefix(UserPrefix("p", 70), UserPrefix("p", 7)) {
		t.Error("user prefixes must not overlap")
	}
}

func TestS3ServicePresign(t *testing.T) {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String("http://localhost:9000"),
		UsePathStyle: true,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
		}),
	})

	if _, err := NewS3Service(client, "", "p"); err == nil {
		t.Fatal("expected error without bucket")
	}

	svc, err := NewS3Service(client, "snapshots", "/p/")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	url, err := svc.GetObjectURL(context.Background(), SnapshotKey("p", 1, "r"), time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(url, "/snapshots/p/user-1/r.json") {
		t.Errorf("unexpected presigned url %q", url)
	}
	if _, err := svc.PutSnapshot(context.Background(), 1, "", nil); err == nil {
		t.Error("expected error for empty run id")
	}
}
