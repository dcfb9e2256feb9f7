package topics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_pipeline/internal/app/model"
)

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Refund Process", DisplayName("refund_process"))
	assert.Equal(t, "App", DisplayName("APP"))
	assert.Equal(t, "", DisplayName(""))
}

func TestSearchTerms(t *testing.T) {
	assert.Equal(t, []string{"customer service", "customer services"}, SearchTerms("customer_service", "Customer Service"))
	assert.Equal(t, []string{"refunds", "refund"}, SearchTerms("refunds", "Refunds"))
	assert.Equal(t, []string{"delivery", "delivery time", "delivery times"}, SearchTerms("delivery", "Delivery time"))
}

func TestLoadDictionary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tp_topics.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"refund":"Refund","app_quality":"App quality"}`), 0o600))

	dict, err := LoadDictionary(path)
	require.NoError(t, err)
	require.Len(t, dict, 2)
	assert.Equal(t, "app_quality", dict[0].TopicKey)
	assert.Equal(t, "App quality", dict[0].TopicName)
	assert.Contains(t, []string(dict[1].SearchTerms), "refunds")

	_, err = LoadDictionary(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestMatcherUsesWordBoundaries(t *testing.T) {
	m := NewMatcher([]model.Topic{
		New("app", "App"),
		New("customer_service", "Customer Service"),
		{TopicKey: "empty", TopicName: "Empty"},
	})

	counts := m.Count([]string{
		"The app crashed twice.",
		"Great APPS and great customer service!",
		"I'm happy with the approach", // "app" inside a word
		"",
	})
	assert.Equal(t, map[string]int{"App": 2, "Customer Service": 1}, counts)
}
