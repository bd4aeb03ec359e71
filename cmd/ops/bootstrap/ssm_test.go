package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// mockSSMClient records calls and returns configurable responses.
type mockSSMClient struct {
	getParameterFn func(ctx context.Context, input *ssm.GetParameterInput) (*ssm.GetParameterOutput, error)
	putParameterFn func(ctx context.Context, input *ssm.PutParameterInput) (*ssm.PutParameterOutput, error)

	getCalls []*ssm.GetParameterInput
	putCalls []*ssm.PutParameterInput
}

func (m *mockSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	m.getCalls = append(m.getCalls, params)
	if m.getParameterFn != nil {
		return m.getParameterFn(ctx, params)
	}
	return nil, &ssmtypes.ParameterNotFound{Message: aws.String("not found")}
}

func (m *mockSSMClient) PutParameter(ctx context.Context, params *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	m.putCalls = append(m.putCalls, params)
	if m.putParameterFn != nil {
		return m.putParameterFn(ctx, params)
	}
	return &ssm.PutParameterOutput{Version: 1}, nil
}

func newTestSSMManager(mock *mockSSMClient, env string) (*SSMManager, *bytes.Buffer) {
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewSSMManagerWithClient(mock, env, logger), logs
}

func TestSSMPath(t *testing.T) {
	tests := []struct {
		env, key, want string
	}{
		{"dev", "stripe/secret_key", "/dev/llcstack/stripe/secret_key"},
		{"prod", "pricing/ra_yearly_price_id", "/prod/llcstack/pricing/ra_yearly_price_id"},
		{"staging", "database/url", "/staging/llcstack/database/url"},
	}
	for _, tt := range tests {
		mgr, _ := newTestSSMManager(&mockSSMClient{}, tt.env)
		if got := mgr.SSMPath(tt.key); got != tt.want {
			t.Errorf("SSMPath(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestParameterExists(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mock := &mockSSMClient{getParameterFn: func(context.Context, *ssm.GetParameterInput) (*ssm.GetParameterOutput, error) {
			return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String("x")}}, nil
		}}
		mgr, _ := newTestSSMManager(mock, "dev")

		exists, err := mgr.ParameterExists(context.Background(), "/dev/llcstack/stripe/secret_key")
		if err != nil || !exists {
			t.Fatalf("expected exists, got %v, %v", exists, err)
		}
		if aws.ToBool(mock.getCalls[0].WithDecryption) {
			t.Error("existence check must not decrypt")
		}
	})

	t.Run("not found", func(t *testing.T) {
		mgr, _ := newTestSSMManager(&mockSSMClient{}, "dev")
		exists, err := mgr.ParameterExists(context.Background(), "/dev/llcstack/site/url")
		if err != nil || exists {
			t.Fatalf("expected missing, got %v, %v", exists, err)
		}
	})

	t.Run("access denied", func(t *testing.T) {
		mock := &mockSSMClient{getParameterFn: func(context.Context, *ssm.GetParameterInput) (*ssm.GetParameterOutput, error) {
			return nil, errors.New("AccessDeniedException")
		}}
		mgr, _ := newTestSSMManager(mock, "dev")
		if _, err := mgr.ParameterExists(context.Background(), "/dev/llcstack/site/url"); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestPutSecret_NeverLogsValue(t *testing.T) {
	mock := &mockSSMClient{}
	mgr, logs := newTestSSMManager(mock, "dev")

	if err := mgr.PutSecret(context.Background(), "/dev/llcstack/stripe/secret_key", "sk_test_supersecret", false); err != nil {
		t.Fatalf("PutSecret: %v", err)
	}

	put := mock.putCalls[0]
	if put.Type != ssmtypes.ParameterTypeSecureString || aws.ToBool(put.Overwrite) {
		t.Errorf("unexpected put input %+v", put)
	}
	if strings.Contains(logs.String(), "supersecret") {
		t.Error("secret value leaked into logs")
	}
}

func TestPutString_AlwaysOverwrites(t *testing.T) {
	mock := &mockSSMClient{}
	mgr, _ := newTestSSMManager(mock, "dev")

	if err := mgr.PutString(context.Background(), "/dev/llcstack/site/url", "https://llcstack.com"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	put := mock.putCalls[0]
	if put.Type != ssmtypes.ParameterTypeString || !aws.ToBool(put.Overwrite) {
		t.Errorf("unexpected put input %+v", put)
	}
}

func TestPutParameter_Errors(t *testing.T) {
	mgr, _ := newTestSSMManager(&mockSSMClient{}, "dev")
	if err := mgr.PutSecret(context.Background(), "", "v", false); err == nil {
		t.Error("expected error for empty path")
	}
	if err := mgr.PutSecret(context.Background(), "/dev/llcstack/x", "", false); err == nil {
		t.Error("expected error for empty value")
	}

	mock := &mockSSMClient{putParameterFn: func(context.Context, *ssm.PutParameterInput) (*ssm.PutParameterOutput, error) {
		return nil, &ssmtypes.ParameterAlreadyExists{Message: aws.String("exists")}
	}}
	mgr, _ = newTestSSMManager(mock, "dev")
	err := mgr.PutSecret(context.Background(), "/dev/llcstack/stripe/secret_key", "sk", false)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected already-exists error, got %v", err)
	}
}
