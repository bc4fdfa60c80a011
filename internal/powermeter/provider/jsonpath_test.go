package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractDottedPathNested(t *testing.T) {
	body := []byte(`{"Power":{"Total":1234.5}}`)
	v, err := extractDottedPath(body, "Power.Total")
	assert.NoError(t, err)
	assert.Equal(t, 1234.5, v)
}

func TestExtractDottedPathMissingKey(t *testing.T) {
	body := []byte(`{"Power":{"Total":1234.5}}`)
	_, err := extractDottedPath(body, "Power.Export")
	assert.Error(t, err)
}

func TestExtractDottedPathNonNumericLeaf(t *testing.T) {
	body := []byte(`{"Power":{"Total":"high"}}`)
	_, err := extractDottedPath(body, "Power.Total")
	assert.Error(t, err)
}
