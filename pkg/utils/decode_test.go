package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decodeItem struct {
	Name  string  `yaml:"name"`
	Score float64 `yaml:"score"`
}

func TestDecodeYAMLList(t *testing.T) {
	doc := `
- name: alpha
  score: 0.9
- name: beta
  score: 0.4
`
	items, skipped, err := DecodeYAMLList[decodeItem]([]byte(doc))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, items, 2)
	assert.Equal(t, "alpha", items[0].Name)
	assert.Equal(t, 0.4, items[1].Score)
}

func TestDecodeYAMLListSkipsMalformedItems(t *testing.T) {
	doc := `
- name: alpha
  score: 0.9
- name: bad
  score: not-a-number
- name: gamma
  score: 0.2
`
	items, skipped, err := DecodeYAMLList[decodeItem]([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, items, 2)
	assert.Equal(t, "gamma", items[1].Name)
}

func TestDecodeYAMLListRejectsNonSequence(t *testing.T) {
	_, _, err := DecodeYAMLList[decodeItem]([]byte("name: alpha"))
	assert.Error(t, err)
}

func TestDecodeYAMLListAllItemsInvalid(t *testing.T) {
	doc := `
- score: [nested]
- score: {value: 1}
`
	items, skipped, err := DecodeYAMLList[decodeItem]([]byte(doc))
	assert.Error(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 2, skipped)
}
