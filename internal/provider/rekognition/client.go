package rekognition

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/smithy-go"
)

const (
	errCodeAccessDenied       = "AccessDeniedException"
	errCodeInvalidParameter   = "InvalidParameterException"
	errCodeInvalidImageFormat = "InvalidImageFormatException"
	errCodeImageTooLarge      = "ImageTooLargeException"
	errCodeThrottling         = "ThrottlingException"
	errCodeThroughput         = "ProvisionedThroughputExceededException"
)

// API is the subset of the Rekognition client used here, so tests can
// substitute a fake.
type API interface {
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

// NewAPI creates a Rekognition client using the AWS default credential chain
func NewAPI(ctx context.Context, cfg Config) (API, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return rekognition.NewFromConfig(awsCfg), nil
}

// classifyError maps AWS API error codes to package errors
func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case errCodeAccessDenied:
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.ErrorMessage())
		case errCodeInvalidParameter, errCodeInvalidImageFormat, errCodeImageTooLarge:
			return fmt.Errorf("%w: %s", ErrInvalidImage, apiErr.ErrorMessage())
		case errCodeThrottling, errCodeThroughput:
			return fmt.Errorf("%w: %s", ErrThrottled, apiErr.ErrorMessage())
		}
	}
	return err
}
