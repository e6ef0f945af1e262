package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/smallbiznis/plantwatch/internal/config"
)

const dynamoRetention = 30 * 24 * time.Hour

type putItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// telemetryItem is keyed by plant_id (partition) and reading_key (sort). The
// sort key orders by time and keeps same-nanosecond readings apart; a resend
// of one reading rewrites the same item.
type telemetryItem struct {
	PlantID     string             `dynamodbav:"plant_id"`
	ReadingKey  string             `dynamodbav:"reading_key"`
	TimestampNs int64              `dynamodbav:"timestamp_ns"`
	DeviceUID   string             `dynamodbav:"device_uid"`
	IngestID    string             `dynamodbav:"ingest_id"`
	Metrics     map[string]float64 `dynamodbav:"metrics"`
	ExpiresAt   int64              `dynamodbav:"expires_at"`
}

type Dynamo struct {
	client putItemAPI
	table  string
	now    func() time.Time
}

func NewDynamo(ctx context.Context, cfg config.DynamoConfig) (*Dynamo, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newDynamo(client, cfg.Table), nil
}

func newDynamo(client putItemAPI, table string) *Dynamo {
	return &Dynamo{client: client, table: table, now: time.Now}
}

func (s *Dynamo) Name() string { return "dynamodb" }

func (s *Dynamo) Write(ctx context.Context, point Point) error {
	if err := point.validate(); err != nil {
		return err
	}
	ts := point.Time.UnixNano()
	item, err := attributevalue.MarshalMap(telemetryItem{
		PlantID:     point.PlantID,
		ReadingKey:  readingKey(ts, point.IngestID),
		TimestampNs: ts,
		DeviceUID:   point.DeviceUID,
		IngestID:    point.IngestID,
		Metrics:     point.Metrics,
		ExpiresAt:   s.now().Add(dynamoRetention).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal telemetry item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put item: %w", err)
	}
	return nil
}

func readingKey(timestampNs int64, ingestID string) string {
	return fmt.Sprintf("%020d#%s", timestampNs, ingestID)
}
