package metrics_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-ml/ember/internal/metrics"
)

func TestNewConfusionMatrix_Invalid(t *testing.T) {
	_, err := metrics.NewConfusionMatrix(0)
	assert.Error(t, err)
	_, err = metrics.NewConfusionMatrix(-3)
	assert.Error(t, err)
}

func TestConfusionMatrix_Counts(t *testing.T) {
	cm, err := metrics.NewConfusionMatrix(2)
	require.NoError(t, err)

	// Predictions: two correct class 0, one correct class 1, one class 1
	// sample predicted as class 0.
	require.NoError(t, cm.Add(0, 0))
	require.NoError(t, cm.Add(0, 0))
	require.NoError(t, cm.Add(1, 1))
	require.NoError(t, cm.Add(0, 1))

	assert.Equal(t, 2, cm.At(0, 0))
	assert.Equal(t, 1, cm.At(0, 1))
	assert.Equal(t, 0, cm.At(1, 0))
	assert.Equal(t, 1, cm.At(1, 1))
	assert.Equal(t, 4, cm.Total())
	assert.InDelta(t, 0.75, cm.Accuracy(), 1e-12)

	precision := cm.Precision()
	assert.InDelta(t, 2.0/3.0, precision[0], 1e-12)
	assert.InDelta(t, 1.0, precision[1], 1e-12)

	recall := cm.Recall()
	assert.InDelta(t, 1.0, recall[0], 1e-12)
	assert.InDelta(t, 0.5, recall[1], 1e-12)

	assert.InDelta(t, (2.0/3.0+1.0)/2, cm.MacroPrecision(), 1e-12)
	assert.InDelta(t, 0.75, cm.MacroRecall(), 1e-12)
}

func TestConfusionMatrix_AddOutOfRange(t *testing.T) {
	cm, err := metrics.NewConfusionMatrix(2)
	require.NoError(t, err)

	assert.Error(t, cm.Add(2, 0))
	assert.Error(t, cm.Add(0, -1))
}

func TestConfusionMatrix_EmptyAccuracy(t *testing.T) {
	cm, err := metrics.NewConfusionMatrix(3)
	require.NoError(t, err)
	assert.Zero(t, cm.Accuracy())
}

func TestConfusionMatrix_Format(t *testing.T) {
	cm, err := metrics.NewConfusionMatrix(2)
	require.NoError(t, err)
	require.NoError(t, cm.Add(0, 0))
	require.NoError(t, cm.Add(1, 1))

	table := cm.Format([]string{"cats", "dogs"})
	assert.True(t, strings.Contains(table, "cats"))
	assert.True(t, strings.Contains(table, "dogs"))
	assert.True(t, strings.Contains(table, "1.0000"))
}
