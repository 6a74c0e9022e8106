package config

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/stowage/stowage/pkg/errors"
)

// defaultSecretNames is the fixed set of named secrets fetched alongside the
// parameter namespace. Each secret is a flat JSON object whose keys are raw
// configuration values (e.g. DATABASE_PASSWORD).
var defaultSecretNames = []string{"database", "cache", "security"}

// ParameterClient is the subset of the SSM API the remote source uses. It is
// satisfied by *ssm.Client and by test fakes.
type ParameterClient interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SecretClient is the subset of the Secrets Manager API the remote source uses.
type SecretClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// RemoteSource fetches raw configuration values from the hierarchical SSM
// parameter namespace /<app>/<environment>/ and from a fixed list of named
// secrets, merging them with secret values winning on overlap.
type RemoteSource struct {
	params      ParameterClient
	secrets     SecretClient
	app         string
	environment string
	secretNames []string
	logger      *slog.Logger
}

// NewRemoteSource builds a remote source backed by real AWS clients using the
// default credential chain.
func NewRemoteSource(ctx context.Context, app, environment string) (*RemoteSource, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigSourceFetch, "failed to load AWS config").
			WithComponent("config").
			WithCause(err)
	}

	return newRemoteSource(ssm.NewFromConfig(awsCfg), secretsmanager.NewFromConfig(awsCfg), app, environment), nil
}

func newRemoteSource(params ParameterClient, secrets SecretClient, app, environment string) *RemoteSource {
	return &RemoteSource{
		params:      params,
		secrets:     secrets,
		app:         app,
		environment: environment,
		secretNames: defaultSecretNames,
		logger:      slog.Default().With("component", "config-remote"),
	}
}

// Fetch retrieves and merges parameters and secrets into one raw-value map.
// A missing named secret is tolerated; any other fetch failure is fatal.
func (s *RemoteSource) Fetch(ctx context.Context) (map[string]string, error) {
	raw, err := s.fetchParameters(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range s.secretNames {
		values, err := s.fetchSecret(ctx, name)
		if err != nil {
			return nil, err
		}
		// Secret-store values win over parameter-store values.
		for k, v := range values {
			raw[k] = v
		}
	}

	s.logger.Debug("remote configuration fetched",
		"app", s.app,
		"environment", s.environment,
		"values", len(raw))

	return raw, nil
}

// fetchParameters drains the parameter namespace, following continuation
// tokens until exhausted.
func (s *RemoteSource) fetchParameters(ctx context.Context) (map[string]string, error) {
	prefix := fmt.Sprintf("/%s/%s/", s.app, s.environment)

	paginator := ssm.NewGetParametersByPathPaginator(s.params, &ssm.GetParametersByPathInput{
		Path:           aws.String(prefix),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})

	raw := make(map[string]string)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewError(errors.ErrCodeConfigSourceFetch, "failed to fetch parameters").
				WithComponent("config").
				WithOperation("GetParametersByPath").
				WithContext("path", prefix).
				WithCause(err)
		}
		for _, p := range page.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			// The last path segment matches the environment-variable name,
			// so both sources feed one parser.
			key := strings.TrimPrefix(*p.Name, prefix)
			if idx := strings.LastIndex(key, "/"); idx >= 0 {
				key = key[idx+1:]
			}
			if key != "" {
				raw[key] = *p.Value
			}
		}
	}

	return raw, nil
}

// fetchSecret retrieves one named secret and decodes its JSON payload.
// Absent secrets are treated as empty, not as an error.
func (s *RemoteSource) fetchSecret(ctx context.Context, name string) (map[string]string, error) {
	secretID := fmt.Sprintf("%s/%s/%s", s.app, s.environment, name)

	out, err := s.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if stderrors.As(err, &notFound) {
			s.logger.Debug("optional secret absent", "secret", secretID)
			return nil, nil
		}
		return nil, errors.NewError(errors.ErrCodeConfigSourceFetch, "failed to fetch secret").
			WithComponent("config").
			WithOperation("GetSecretValue").
			WithContext("secret", secretID).
			WithCause(err)
	}

	if out.SecretString == nil || *out.SecretString == "" {
		return nil, nil
	}

	values := make(map[string]string)
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigSourceFetch, "secret payload is not a JSON object").
			WithComponent("config").
			WithContext("secret", secretID).
			WithCause(err)
	}

	return values, nil
}
