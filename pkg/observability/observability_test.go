package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

func newManualProvider(t *testing.T) (*Provider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	p, err := newProvider(nil, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, reader
}

// counterByAttr sums an Int64 counter grouped by the value of key.
func counterByAttr(t *testing.T, reader *sdkmetric.ManualReader, name string, key attribute.Key) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(key)
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	assert.Equal(t, "verifiquant", c.ServiceName)
	assert.Equal(t, "localhost:4317", c.Endpoint)
	assert.Equal(t, 1.0, c.SampleRate)
	assert.Positive(t, c.ExportInterval)
}

func TestDisabledProviderIsInert(t *testing.T) {
	p := Disabled()
	require.NotNil(t, p.Tracer())
	assert.Nil(t, p.SLO())

	_, done := p.TrackOperation(context.Background(), OperationCompute)
	done(errors.New("x"))
	p.RecordOutcome(context.Background(), &contracts.Errored{Code: contracts.CodeRequestCancelled})
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestTrackOperationFeedsSLO(t *testing.T) {
	slo := NewSLOTracker()
	slo.SetTarget(DefaultSolveSLO())
	p := Disabled().WithSLO(slo)

	ctx, done := p.TrackOperation(context.Background(), OperationSolve, StageOperation("req-1", "received")...)
	require.NotNil(t, ctx)
	done(nil)

	_, done = p.TrackOperation(context.Background(), OperationSolve)
	done(errors.New("upstream down"))

	status, err := slo.Status(OperationSolve)
	require.NoError(t, err)
	assert.Equal(t, 2, status.ObservationCount)
	assert.Equal(t, 0.5, status.SuccessRate)
	assert.False(t, status.InCompliance)
}

func TestTrackOperationCountsFailuresByCode(t *testing.T) {
	p, reader := newManualProvider(t)
	ctx := context.Background()

	_, done := p.TrackOperation(ctx, OperationResolve)
	done(nil)
	_, done = p.TrackOperation(ctx, OperationResolve)
	done(context.Canceled)
	_, done = p.TrackOperation(ctx, OperationResolve)
	done(errors.New("boom"))

	ops := counterByAttr(t, reader, "verifiquant.operations", AttrOperation)
	assert.Equal(t, int64(3), ops[OperationResolve])

	failures := counterByAttr(t, reader, "verifiquant.operation.failures", AttrErrorCode)
	assert.Equal(t, map[string]int64{
		contracts.CodeRequestCancelled: 1,
		"VQ/CORE/INTERNAL":             1,
	}, failures)
}

func TestRecordOutcome(t *testing.T) {
	p, reader := newManualProvider(t)
	ctx := context.Background()
	score := 0.42

	p.RecordOutcome(ctx, &contracts.Success{CardID: "sharpe_ratio", Confidence: contracts.ConfidenceReport{Score: 0.9}})
	p.RecordOutcome(ctx, &contracts.Success{CardID: "sharpe_ratio", Confidence: contracts.ConfidenceReport{Score: 0.8}})
	p.RecordOutcome(ctx, &contracts.Refused{CardID: "sharpe_ratio", Score: &score})
	p.RecordOutcome(ctx, &contracts.Errored{Code: contracts.CodeRequestCancelled})
	p.RecordOutcome(ctx, nil)

	outcomes := counterByAttr(t, reader, "verifiquant.solve.outcomes", AttrStatus)
	assert.Equal(t, map[string]int64{
		string(contracts.StatusSuccess): 2,
		string(contracts.StatusRefused): 1,
		string(contracts.StatusError):   1,
	}, outcomes)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.Canceled, contracts.CodeRequestCancelled},
		{context.DeadlineExceeded, "VQ/CORE/REQUEST/DEADLINE_EXCEEDED"},
		{errors.New("plain"), "VQ/CORE/INTERNAL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCode(tt.err), tt.err.Error())
	}
}

func TestSpanHelpersWithoutSpan(t *testing.T) {
	ctx := context.Background()
	AddSpanEvent(ctx, "stage", AttrStage.String("bound"))
	SetSpanAttributes(ctx, AttrCardID.String("sharpe_ratio"))
	SetSpanStatus(ctx, nil)
	SetSpanStatus(ctx, errors.New("boom"))
}

func TestStageOperation(t *testing.T) {
	attrs := StageOperation("req-1", "computed")
	require.Len(t, attrs, 2)
	assert.Equal(t, "req-1", attrs[0].Value.AsString())
	assert.Equal(t, "computed", attrs[1].Value.AsString())
}
