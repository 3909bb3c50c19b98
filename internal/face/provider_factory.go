package face

import (
	"context"
	"fmt"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/config"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider/deepface"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider/dlib"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider/rekognition"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider/tfserving"
)

// ProviderType defines supported collaborator implementations
type ProviderType string

const (
	// ProviderTypeDeepFace is the DeepFace detector (local sidecar)
	ProviderTypeDeepFace ProviderType = "deepface"
	// ProviderTypeRekognition is the AWS Rekognition detector (cloud)
	ProviderTypeRekognition ProviderType = "rekognition"
	// ProviderTypeDlib is the 68-point shape predictor sidecar
	ProviderTypeDlib ProviderType = "dlib"
	// ProviderTypeTFServing is the classifier behind TensorFlow Serving
	ProviderTypeTFServing ProviderType = "tfserving"
	// ProviderTypeMock is deterministic and needs no external service
	ProviderTypeMock ProviderType = "mock"
)

// Providers bundles the three collaborators the pipeline consumes
type Providers struct {
	Detector   provider.FaceDetector
	Predictor  provider.LandmarkPredictor
	Classifier provider.Classifier
}

// NewProviders creates detector, predictor and classifier from configuration
//
// Environment variables:
//   - DETECTOR_TYPE: "deepface", "rekognition" or "mock" (default: "deepface")
//   - LANDMARK_TYPE: "dlib" or "mock" (default: "dlib")
//   - CLASSIFIER_TYPE: "tfserving" or "mock" (default: "tfserving")
//   - AWS_REGION plus the AWS SDK credential chain for Rekognition
func NewProviders(ctx context.Context, cfg config.Providers) (*Providers, error) {
	detector, err := NewFaceDetector(ctx, cfg)
	if err != nil {
		return nil, err
	}
	predictor, err := NewLandmarkPredictor(cfg)
	if err != nil {
		return nil, err
	}
	classifier, err := NewClassifier(cfg)
	if err != nil {
		return nil, err
	}
	return &Providers{Detector: detector, Predictor: predictor, Classifier: classifier}, nil
}

func NewFaceDetector(ctx context.Context, cfg config.Providers) (provider.FaceDetector, error) {
	switch ProviderType(cfg.DetectorType) {
	case ProviderTypeRekognition:
		rekogConfig := rekognition.DefaultConfig()
		if cfg.AWSRegion != "" {
			rekogConfig.Region = cfg.AWSRegion
		}
		d, err := rekognition.NewDetector(ctx, rekogConfig)
		if err != nil {
			return nil, fmt.Errorf("create rekognition detector: %w", err)
		}
		return d, nil

	case ProviderTypeDeepFace, "":
		dfConfig := deepface.DefaultConfig()
		if cfg.DeepFaceURL != "" {
			dfConfig.BaseURL = cfg.DeepFaceURL
		}
		if cfg.DeepFaceDetector != "" {
			dfConfig.Detector = cfg.DeepFaceDetector
		}
		if cfg.RequestTimeout > 0 {
			dfConfig.Timeout = cfg.RequestTimeout
		}
		dfConfig.RetryCount = cfg.RetryCount
		return deepface.NewDetector(dfConfig), nil

	case ProviderTypeMock:
		return mock.NewDetector(), nil

	default:
		return nil, fmt.Errorf("unknown detector type: %s (supported: %s, %s, %s)",
			cfg.DetectorType, ProviderTypeDeepFace, ProviderTypeRekognition, ProviderTypeMock)
	}
}

func NewLandmarkPredictor(cfg config.Providers) (provider.LandmarkPredictor, error) {
	switch ProviderType(cfg.LandmarkType) {
	case ProviderTypeDlib, "":
		dlibConfig := dlib.DefaultConfig()
		if cfg.LandmarkURL != "" {
			dlibConfig.BaseURL = cfg.LandmarkURL
		}
		if cfg.RequestTimeout > 0 {
			dlibConfig.Timeout = cfg.RequestTimeout
		}
		dlibConfig.RetryCount = cfg.RetryCount
		return dlib.NewPredictor(dlibConfig), nil

	case ProviderTypeMock:
		return mock.NewPredictor(), nil

	default:
		return nil, fmt.Errorf("unknown landmark type: %s (supported: %s, %s)",
			cfg.LandmarkType, ProviderTypeDlib, ProviderTypeMock)
	}
}

// NewClassifier never retries: the inference driver owns the time budget
// and a retried call would only eat into it.
func NewClassifier(cfg config.Providers) (provider.Classifier, error) {
	switch ProviderType(cfg.ClassifierType) {
	case ProviderTypeTFServing, "":
		tfConfig := tfserving.DefaultConfig()
		if cfg.TFServingURL != "" {
			tfConfig.BaseURL = cfg.TFServingURL
		}
		if cfg.TFServingModel != "" {
			tfConfig.Model = cfg.TFServingModel
		}
		return tfserving.NewClassifier(tfConfig), nil

	case ProviderTypeMock:
		return mock.NewClassifier(0.5), nil

	default:
		return nil, fmt.Errorf("unknown classifier type: %s (supported: %s, %s)",
			cfg.ClassifierType, ProviderTypeTFServing, ProviderTypeMock)
	}
}
