package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Run("Allowed transitions", func(t *testing.T) {
		assert.True(t, CanTransition(DocumentUploaded, DocumentProcessing))
		assert.True(t, CanTransition(DocumentProcessing, DocumentEmbedded))
		assert.True(t, CanTransition(DocumentProcessing, DocumentFailed))
		assert.True(t, CanTransition(DocumentFailed, DocumentProcessing))
	})

	t.Run("Rejected transitions", func(t *testing.T) {
		assert.False(t, CanTransition(DocumentUploaded, DocumentEmbedded))
		assert.False(t, CanTransition(DocumentUploaded, DocumentFailed))
		assert.False(t, CanTransition(DocumentEmbedded, DocumentProcessing))
		assert.False(t, CanTransition(DocumentEmbedded, DocumentFailed))
		assert.False(t, CanTransition(DocumentProcessing, DocumentUploaded))
		assert.False(t, CanTransition(DocumentFailed, DocumentEmbedded))
	})

	t.Run("Self transitions rejected", func(t *testing.T) {
		for _, status := range []DocumentStatus{DocumentUploaded, DocumentProcessing, DocumentEmbedded, DocumentFailed} {
			assert.False(t, CanTransition(status, status), "self transition for %v", status)
		}
	})
}

func TestTerminal(t *testing.T) {
	assert.False(t, DocumentUploaded.Terminal())
	assert.False(t, DocumentProcessing.Terminal())
	assert.True(t, DocumentEmbedded.Terminal())
	assert.True(t, DocumentFailed.Terminal())
}

func TestNewDocument(t *testing.T) {
	doc := NewDocument("Onboarding", "Welcome to the team.")

	require.NotNil(t, doc)
	assert.Equal(t, DocumentUploaded, doc.Status)
	assert.Equal(t, "Onboarding", doc.Title)
	assert.NotEqual(t, "", doc.ID.String())
	assert.Equal(t, HashText("Welcome to the team."), doc.ContentHash)
	assert.Equal(t, 0, doc.ChunkCount)
}

func TestHashText(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, HashText("same"), HashText("same"))
	})

	t.Run("Different inputs differ", func(t *testing.T) {
		assert.NotEqual(t, HashText("one"), HashText("two"))
	})

	t.Run("Hex sha256 length", func(t *testing.T) {
		assert.Len(t, HashText(""), 64)
	})
}
