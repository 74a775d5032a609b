package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordReloadSuccess_IncrementsCountersAndDrainTotal(t *testing.T) {
	before := testutil.ToFloat64(reloadSuccessTotal)

	RecordReloadSuccess(250)

	assert.Equal(t, before+1, testutil.ToFloat64(reloadSuccessTotal))
}

func TestRecordDuplicateSignal_Increments(t *testing.T) {
	before := testutil.ToFloat64(duplicateSignalTotal)

	RecordDuplicateSignal()

	assert.Equal(t, before+1, testutil.ToFloat64(duplicateSignalTotal))
}

func TestRecordPipelineResult_IncrementsLabeledCounter(t *testing.T) {
	before := testutil.ToFloat64(pipelineResultTotal.WithLabelValues("slack", "completed"))

	RecordPipelineResult("slack", "completed")

	assert.Equal(t, before+1, testutil.ToFloat64(pipelineResultTotal.WithLabelValues("slack", "completed")))
}

func TestRecordOutboxDeadLetter_IncrementsLabeledCounter(t *testing.T) {
	before := testutil.ToFloat64(outboxDeadLetterTotal.WithLabelValues("telegram"))

	RecordOutboxDeadLetter("telegram")

	assert.Equal(t, before+1, testutil.ToFloat64(outboxDeadLetterTotal.WithLabelValues("telegram")))
}

func TestHandler_ReturnsNonNil(t *testing.T) {
	assert.NotNil(t, Handler())
}
