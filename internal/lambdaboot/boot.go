// Package lambdaboot provides the shared start-up logic of the Image Insight
// binaries: AWS config, persistence backends, the Gemini key and start-up
// logging. Each binary's main is a short composition of these helpers.
package lambdaboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/nurbua/Image-Insight/internal/auth"
	"github.com/nurbua/Image-Insight/internal/config"
	"github.com/nurbua/Image-Insight/internal/logging"
	"github.com/nurbua/Image-Insight/internal/s3util"
	"github.com/nurbua/Image-Insight/internal/store"
)

// SSMAPI is the subset of *ssm.Client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// InitAWS loads the default AWS config.
func InitAWS(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg, nil
}

// LoadGeminiKey reads the Gemini API key from SSM Parameter Store.
func LoadGeminiKey(ctx context.Context, client SSMAPI, paramName string) (string, error) {
	if paramName == "" {
		return "", fmt.Errorf("SSM parameter name is empty")
	}
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read %s from SSM: %w", paramName, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", paramName)
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return aws.ToString(result.Parameter.Value), nil
}

// Resources are the persistence backends selected by the configuration.
type Resources struct {
	Chat     store.ChatStore
	Analyses store.AnalysisSink

	// Images is nil unless a media bucket is configured.
	Images *s3util.ImageStore

	// AWS is nil when no AWS service is configured.
	AWS *aws.Config

	closers []func() error
}

// Open builds the chat store, analysis sink and image store described by
// cfg. An AWS config is loaded only when DynamoDB or S3 are configured.
func Open(ctx context.Context, cfg *config.Config) (*Resources, error) {
	res := &Resources{}

	if cfg.UsesDynamo() || cfg.MediaBucket != "" {
		awsCfg, err := InitAWS(ctx)
		if err != nil {
			return nil, err
		}
		res.AWS = &awsCfg
	}

	if cfg.MediaBucket != "" {
		client := s3.NewFromConfig(*res.AWS)
		res.Images = s3util.NewImageStore(client, s3.NewPresignClient(client), cfg.MediaBucket)
	}

	// A nil *s3util.ImageStore must not become a non-nil interface.
	var images store.ImageStore
	if res.Images != nil {
		images = res.Images
	}

	if !cfg.UsesDynamo() {
		res.Chat = store.NewMemoryChatStore()
		res.Analyses = store.NewMemoryAnalysisSink(images)
		return res, nil
	}

	var notifier store.Notifier
	if cfg.RedisAddr != "" {
		rn, err := store.NewRedisNotifier(ctx, cfg.RedisAddr, cfg.RedisChannelPrefix)
		if err != nil {
			return nil, err
		}
		res.closers = append(res.closers, rn.Close)
		notifier = rn
	} else {
		log.Warn().Msg("REDIS_ADDR not set, chat updates only reach this instance")
	}

	ddb := dynamodb.NewFromConfig(*res.AWS)
	res.Chat = store.NewDynamoChatStore(ddb, cfg.ChatTable, notifier)
	res.Analyses = store.NewDynamoAnalysisSink(ddb, cfg.AnalysisTable, images)
	return res, nil
}

// GeminiKey returns the configured key, falling back to SSM when AWS is
// available and the key is not set in the environment.
func (r *Resources) GeminiKey(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.GeminiAPIKey != "" {
		return cfg.GeminiAPIKey, nil
	}
	if r.AWS != nil && cfg.SSMAPIKeyParam != "" {
		return LoadGeminiKey(ctx, ssm.NewFromConfig(*r.AWS), cfg.SSMAPIKeyParam)
	}
	return auth.GetAPIKey()
}

// Close releases every resource, returning all failures together.
func (r *Resources) Close() error {
	var result *multierror.Error
	for _, c := range r.closers {
		if err := c(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// StartupLog returns a start-up logger pre-filled with the resources of cfg.
func StartupLog(name string, initStart time.Time, cfg *config.Config) *logging.StartupLogger {
	return logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		DynamoTable("chat", dynamoOnly(cfg, cfg.ChatTable)).
		DynamoTable("analysis", dynamoOnly(cfg, cfg.AnalysisTable)).
		S3Bucket("media", cfg.MediaBucket).
		Redis("notifier", dynamoOnly(cfg, cfg.RedisAddr)).
		SSMParam("geminiKey", ssmParam(cfg)).
		Feature("jwtAuth", cfg.AuthJWTSecret != "").
		Config("storeBackend", cfg.StoreBackend).
		Config("logFormat", cfg.LogFormat)
}

func dynamoOnly(cfg *config.Config, v string) string {
	if !cfg.UsesDynamo() {
		return ""
	}
	return v
}

func ssmParam(cfg *config.Config) string {
	if cfg.GeminiAPIKey != "" {
		return ""
	}
	return cfg.SSMAPIKeyParam
}
