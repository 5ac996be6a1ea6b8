package contextbuilder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"scriptforge/internal/contextbuilder"
)

func TestTopicModeDetector_NoPriorMessage(t *testing.T) {
	t.Parallel()
	d := contextbuilder.NewTopicModeDetector()
	got := d.Detect("Let's start brainstorming the pilot.", "", contextbuilder.OverrideNone)
	assert.Equal(t, contextbuilder.ModeNewTopic, got.Mode)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestTopicModeDetector_ExplicitNewTopicPhrase(t *testing.T) {
	t.Parallel()
	d := contextbuilder.NewTopicModeDetector()
	got := d.Detect("Different topic: what do you think of the title?", "Jane's arc resolves in scene 12.", contextbuilder.OverrideNone)
	assert.Equal(t, contextbuilder.ModeNewTopic, got.Mode)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestTopicModeDetector_MultipleFollowUpPhrases(t *testing.T) {
	t.Parallel()
	d := contextbuilder.NewTopicModeDetector()
	got := d.Detect("Also, and also what about the ending, furthermore continuing from there with some more detail please", "Jane's arc resolves in scene 12.", contextbuilder.OverrideNone)
	assert.Equal(t, contextbuilder.ModeFollowUp, got.Mode)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestTopicModeDetector_StartsWithReferentialPronoun(t *testing.T) {
	t.Parallel()
	d := contextbuilder.NewTopicModeDetector()
	got := d.Detect("It feels rushed to me honestly given everything we discussed earlier about pacing", "Jane's arc resolves in scene 12.", contextbuilder.OverrideNone)
	assert.Equal(t, contextbuilder.ModeFollowUp, got.Mode)
	assert.Equal(t, 0.7, got.Confidence)
}

func TestTopicModeDetector_SceneNumberOverlap(t *testing.T) {
	t.Parallel()
	d := contextbuilder.NewTopicModeDetector()
	got := d.Detect("Can we punch up the dialogue around scene 12 a little more please thanks", "Jane's arc resolves in scene 12 with a twist.", contextbuilder.OverrideNone)
	assert.Equal(t, contextbuilder.ModeFollowUp, got.Mode)
	assert.Equal(t, 0.8, got.Confidence)
}

func TestTopicModeDetector_ShortMessageDefault(t *testing.T) {
	t.Parallel()
	d := contextbuilder.NewTopicModeDetector()
	got := d.Detect("Make it funnier.", "Jane's arc resolves there.", contextbuilder.OverrideNone)
	assert.Equal(t, contextbuilder.ModeFollowUp, got.Mode)
	assert.Equal(t, 0.7, got.Confidence)
}

func TestTopicModeDetector_OverrideBypassesDetection(t *testing.T) {
	t.Parallel()
	d := contextbuilder.NewTopicModeDetector()
	got := d.Detect("New question entirely.", "Jane's arc resolves in scene 12.", contextbuilder.OverrideContinue)
	assert.Equal(t, contextbuilder.ModeFollowUp, got.Mode)
	assert.Equal(t, 1.0, got.Confidence)
}
