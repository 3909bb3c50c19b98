package rekognition

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

// mockAPI is a function-field fake of the Rekognition client
type mockAPI struct {
	detectFacesFunc func(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

func (m *mockAPI) DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error) {
	if m.detectFacesFunc != nil {
		return m.detectFacesFunc(ctx, params, optFns...)
	}
	return &rekognition.DetectFacesOutput{}, nil
}

func testFrame() domain.Frame {
	const w, h = 200, 100
	pix := make([]uint8, w*h*3)
	for i := range pix {
		pix[i] = uint8(i % 251)
	}
	return domain.Frame{Width: w, Height: h, Pix: pix}
}

func detail(left, top, width, height, confidence float32) types.FaceDetail {
	return types.FaceDetail{
		BoundingBox: &types.BoundingBox{
			Left:   aws.Float32(left),
			Top:    aws.Float32(top),
			Width:  aws.Float32(width),
			Height: aws.Float32(height),
		},
		Confidence: aws.Float32(confidence),
	}
}

func TestDetector_Detect(t *testing.T) {
	tests := []struct {
		name    string
		output  *rekognition.DetectFacesOutput
		err     error
		want    []domain.FaceBox
		wantErr error
	}{
		{
			name:   "converts ratios to pixels",
			output: &rekognition.DetectFacesOutput{FaceDetails: []types.FaceDetail{detail(0.25, 0.1, 0.5, 0.6, 99.5)}},
			want:   []domain.FaceBox{{Left: 50, Top: 10, Width: 100, Height: 60, Confidence: 0.995}},
		},
		{
			name:   "clamps boxes leaving the frame",
			output: &rekognition.DetectFacesOutput{FaceDetails: []types.FaceDetail{detail(-0.1, 0.5, 0.3, 0.7, 95)}},
			want:   []domain.FaceBox{{Left: 0, Top: 50, Width: 40, Height: 50, Confidence: 0.95}},
		},
		{
			name:   "drops low confidence",
			output: &rekognition.DetectFacesOutput{FaceDetails: []types.FaceDetail{detail(0.1, 0.1, 0.2, 0.2, 40)}},
			want:   []domain.FaceBox{},
		},
		{
			name:    "access denied",
			err:     &smithy.GenericAPIError{Code: errCodeAccessDenied, Message: "denied"},
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "throttled",
			err:     &smithy.GenericAPIError{Code: errCodeThrottling, Message: "slow down"},
			wantErr: ErrThrottled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := &mockAPI{
				detectFacesFunc: func(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error) {
					require.NotNil(t, params.Image)
					assert.NotEmpty(t, params.Image.Bytes)
					return tt.output, tt.err
				},
			}

			d, err := NewDetector(context.Background(), DefaultConfig(), WithAPI(api))
			require.NoError(t, err)

			boxes, err := d.Detect(context.Background(), testFrame())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}

			require.NoError(t, err)
			require.Len(t, boxes, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].Left, boxes[i].Left)
				assert.Equal(t, tt.want[i].Top, boxes[i].Top)
				assert.Equal(t, tt.want[i].Width, boxes[i].Width)
				assert.Equal(t, tt.want[i].Height, boxes[i].Height)
				assert.InDelta(t, tt.want[i].Confidence, boxes[i].Confidence, 1e-4)
			}
		})
	}
}

func TestValidateImage(t *testing.T) {
	assert.ErrorIs(t, validateImage(make([]byte, 10)), ErrInvalidImage)
	assert.ErrorIs(t, validateImage(make([]byte, maxImageSize+1)), ErrInvalidImage)
	assert.NoError(t, validateImage(make([]byte, 1024)))
}
