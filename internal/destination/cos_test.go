package destination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCOS_MissingBucketFails(t *testing.T) {
	_, err := NewCOS(COSConfig{Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"})
	require.Error(t, err)
}

func TestNewCOS_ValidConfigBuilds(t *testing.T) {
	sink, err := NewCOS(COSConfig{
		Bucket:    "test-bucket",
		Region:    "ap-guangzhou",
		SecretID:  "id",
		SecretKey: "key",
		KeyPrefix: "profilomatic/",
	})
	require.NoError(t, err)
	require.Equal(t, "cos", sink.Name())
}
