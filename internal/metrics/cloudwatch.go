package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-order-saga/internal/aws"
)

// maxDatumsPerCall is the PutMetricData batch limit.
const maxDatumsPerCall = 1000

// CloudWatchSink buffers counts in memory and ships them with Flush.
type CloudWatchSink struct {
	client    aws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time

	mu     sync.Mutex
	counts map[datumKey]float64
}

type datumKey struct {
	name      string
	dimension string
	value     string
}

func NewCloudWatchSink(client aws.CloudWatchAPI, namespace string) *CloudWatchSink {
	if namespace == "" {
		namespace = "OrderSaga"
	}
	return &CloudWatchSink{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
		counts:    map[datumKey]float64{},
	}
}

func (s *CloudWatchSink) add(name, dimension, value string) {
	s.mu.Lock()
	s.counts[datumKey{name: name, dimension: dimension, value: value}]++
	s.mu.Unlock()
}

func (s *CloudWatchSink) StageOutcome(stage, outcome string) {
	s.add("StageOutcome", "Stage", stage+":"+outcome)
}

func (s *CloudWatchSink) PaymentAttempt(outcome string) {
	s.add("PaymentAttempt", "Outcome", outcome)
}

func (s *CloudWatchSink) Compensation(outcome string) {
	s.add("InventoryCompensation", "Outcome", outcome)
}

func (s *CloudWatchSink) ThresholdReached(storeID string) {
	s.add("ThresholdReached", "StoreId", storeID)
}

// Flush sends the buffered counts. Counts are dropped from the buffer only
// after a successful send.
func (s *CloudWatchSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.counts
	s.counts = map[datumKey]float64{}
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	now := s.nowFunc()
	data := make([]cwtypes.MetricDatum, 0, len(pending))
	for k, v := range pending {
		data = append(data, cwtypes.MetricDatum{
			MetricName: awssdk.String(k.name),
			Dimensions: []cwtypes.Dimension{{Name: awssdk.String(k.dimension), Value: awssdk.String(k.value)}},
			Value:      awssdk.Float64(v),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  awssdk.Time(now),
		})
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  awssdk.String(s.namespace),
			MetricData: data[start:end],
		})
		if err != nil {
			s.restore(pending)
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

func (s *CloudWatchSink) restore(pending map[datumKey]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range pending {
		s.counts[k] += v
	}
}
