package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

type mockSTS struct {
	out *sts.GetCallerIdentityOutput
	err error
}

func (m *mockSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return m.out, m.err
}

func TestValidateEnvironment(t *testing.T) {
	for _, env := range []string{"dev", "staging", "prod"} {
		if err := validateEnvironment(env); err != nil {
			t.Errorf("%s: unexpected error %v", env, err)
		}
	}
	for _, env := range []string{"", "local", "production"} {
		if err := validateEnvironment(env); err == nil {
			t.Errorf("%q: expected error", env)
		}
	}
}

func TestInitializeSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("identity verified", func(t *testing.T) {
		client := &mockSTS{out: &sts.GetCallerIdentityOutput{
			Account: aws.String("123456789012"),
			Arn:     aws.String("arn:aws:iam::123456789012:user/ops"),
		}}
		bctx, err := initializeSession(context.Background(), client, aws.Config{Region: "us-east-1"}, "dev", "", "us-east-1", logger)
		if err != nil {
			t.Fatalf("initializeSession: %v", err)
		}
		if bctx.AccountID != "123456789012" || bctx.Environment != "dev" || bctx.AWSConfig.Region != "us-east-1" {
			t.Errorf("unexpected context %+v", bctx)
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		client := &mockSTS{err: errors.New("ExpiredToken")}
		_, err := initializeSession(context.Background(), client, aws.Config{}, "dev", "llcstack-dev", "us-east-1", logger)
		if err == nil || !strings.Contains(err.Error(), "llcstack-dev") {
			t.Errorf("expected error naming the profile, got %v", err)
		}
	})
}
