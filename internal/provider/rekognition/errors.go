package rekognition

import "errors"

var (
	// ErrInvalidCredentials indicates that AWS credentials are invalid or missing
	ErrInvalidCredentials = errors.New("invalid or missing AWS credentials")

	// ErrInvalidImage indicates the encoded frame was rejected by Rekognition
	ErrInvalidImage = errors.New("invalid image for rekognition")

	// ErrThrottled indicates the account hit its Rekognition TPS limit
	ErrThrottled = errors.New("rekognition request throttled")
)
