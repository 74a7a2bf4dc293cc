// Package dynamo implements bitstore.MetaStore on DynamoDB.
//
// It covers deployments that keep bit arrays in a bit-addressable store such
// as Redis but want filter metadata, counters and generation registries in
// DynamoDB. Combine it with a BitStore via bloomgo.WithMetaStore.
//
// Table schema:
//   - Partition key: record_key (string) - the metadata/registry key
//   - TTL attribute: expires_at (number, epoch seconds) - optional
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name bloomgo-meta \
//	  --attribute-definitions AttributeName=record_key,AttributeType=S \
//	  --key-schema AttributeName=record_key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
//	aws dynamodb update-time-to-live \
//	  --table-name bloomgo-meta \
//	  --time-to-live-specification Enabled=true,AttributeName=expires_at
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/bloomgo/bitstore"
)

const (
	attrKey             = "record_key"
	attrErrorRate       = "error_rate"
	attrNumSlices       = "num_slices"
	attrBitsPerSlice    = "bits_per_slice"
	attrCapacity        = "filter_capacity"
	attrNumBits         = "num_bits"
	attrCount           = "filter_count"
	attrScale           = "scale"
	attrRatio           = "ratio"
	attrInitialCapacity = "initial_capacity"
	attrGenerations     = "generations"
	attrExpiresAt       = "expires_at"
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// MetaStore implements bitstore.MetaStore backed by a DynamoDB table.
type MetaStore struct {
	client    DDBClient
	tableName string
}

// New creates a DynamoDB-backed metadata store using the given table.
func New(client DDBClient, tableName string) *MetaStore {
	return &MetaStore{client: client, tableName: tableName}
}

func (s *MetaStore) keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: key},
	}
}

func (s *MetaStore) getItem(ctx context.Context, key string) (map[string]types.AttributeValue, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: get %s: %w", key, err)
	}
	if len(resp.Item) == 0 {
		return nil, bitstore.ErrNotFound
	}
	return resp.Item, nil
}

// FilterMeta loads the item under key as a filter record.
func (s *MetaStore) FilterMeta(ctx context.Context, key string) (*bitstore.FilterMeta, error) {
	item, err := s.getItem(ctx, key)
	if err != nil {
		return nil, err
	}
	meta := &bitstore.FilterMeta{}
	if meta.ErrorRate, err = numFloat(item, attrErrorRate); err != nil {
		return nil, err
	}
	if meta.NumSlices, err = numInt(item, attrNumSlices); err != nil {
		return nil, err
	}
	if meta.BitsPerSlice, err = numInt(item, attrBitsPerSlice); err != nil {
		return nil, err
	}
	if meta.Capacity, err = numInt(item, attrCapacity); err != nil {
		return nil, err
	}
	if meta.NumBits, err = numInt(item, attrNumBits); err != nil {
		return nil, err
	}
	if meta.Count, err = numInt(item, attrCount); err != nil {
		return nil, err
	}
	return meta, nil
}

// PutFilterMeta stores a filter record under key.
func (s *MetaStore) PutFilterMeta(ctx context.Context, key string, meta *bitstore.FilterMeta) error {
	item := s.keyOf(key)
	item[attrErrorRate] = numAttrFloat(meta.ErrorRate)
	item[attrNumSlices] = numAttr(meta.NumSlices)
	item[attrBitsPerSlice] = numAttr(meta.BitsPerSlice)
	item[attrCapacity] = numAttr(meta.Capacity)
	item[attrNumBits] = numAttr(meta.NumBits)
	item[attrCount] = numAttr(meta.Count)

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamo: put %s: %w", key, err)
	}
	return nil
}

// ScalableMeta loads the item under key as a scalable record.
func (s *MetaStore) ScalableMeta(ctx context.Context, key string) (*bitstore.ScalableMeta, error) {
	item, err := s.getItem(ctx, key)
	if err != nil {
		return nil, err
	}
	meta := &bitstore.ScalableMeta{}
	if meta.ErrorRate, err = numFloat(item, attrErrorRate); err != nil {
		return nil, err
	}
	if meta.Scale, err = numInt(item, attrScale); err != nil {
		return nil, err
	}
	if meta.Ratio, err = numFloat(item, attrRatio); err != nil {
		return nil, err
	}
	if meta.InitialCapacity, err = numInt(item, attrInitialCapacity); err != nil {
		return nil, err
	}
	return meta, nil
}

// PutScalableMeta stores a scalable record under key.
func (s *MetaStore) PutScalableMeta(ctx context.Context, key string, meta *bitstore.ScalableMeta) error {
	item := s.keyOf(key)
	item[attrErrorRate] = numAttrFloat(meta.ErrorRate)
	item[attrScale] = numAttr(meta.Scale)
	item[attrRatio] = numAttrFloat(meta.Ratio)
	item[attrInitialCapacity] = numAttr(meta.InitialCapacity)

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamo: put %s: %w", key, err)
	}
	return nil
}

// IncrementCount atomically adds delta to the count attribute under key via
// an ADD update expression and returns the new value.
func (s *MetaStore) IncrementCount(ctx context.Context, key string, delta int64) (int64, error) {
	resp, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              s.keyOf(key),
		UpdateExpression: aws.String("ADD #c :d"),
		ExpressionAttributeNames: map[string]string{
			"#c": attrCount,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": numAttr(delta),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamo: increment %s: %w", key, err)
	}
	return numInt(resp.Attributes, attrCount)
}

// AddGenerations adds names to the string-set attribute under key.
func (s *MetaStore) AddGenerations(ctx context.Context, key string, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              s.keyOf(key),
		UpdateExpression: aws.String("ADD #g :names"),
		ExpressionAttributeNames: map[string]string{
			"#g": attrGenerations,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":names": &types.AttributeValueMemberSS{Value: names},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo: register generations %s: %w", key, err)
	}
	return nil
}

// Generations returns the members of the string-set attribute under key.
// A missing item or attribute yields an empty slice.
func (s *MetaStore) Generations(ctx context.Context, key string) ([]string, error) {
	item, err := s.getItem(ctx, key)
	if err != nil {
		if errors.Is(err, bitstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	set, ok := item[attrGenerations].(*types.AttributeValueMemberSS)
	if !ok {
		return nil, nil
	}
	return set.Value, nil
}

// DeleteMeta removes the given records.
func (s *MetaStore) DeleteMeta(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key:       s.keyOf(key),
		})
		if err != nil {
			return fmt.Errorf("dynamo: delete %s: %w", key, err)
		}
	}
	return nil
}

// ExpireMeta sets the TTL attribute of the given records; DynamoDB reaps
// them after the deadline if the table has TTL enabled on expires_at.
func (s *MetaStore) ExpireMeta(ctx context.Context, ttl time.Duration, keys ...string) error {
	deadline := time.Now().Add(ttl).Unix()
	for _, key := range keys {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String(s.tableName),
			Key:              s.keyOf(key),
			UpdateExpression: aws.String("SET #t = :t"),
			ExpressionAttributeNames: map[string]string{
				"#t": attrExpiresAt,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":t": numAttr(deadline),
			},
		})
		if err != nil {
			return fmt.Errorf("dynamo: expire %s: %w", key, err)
		}
	}
	return nil
}

func numAttr(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func numAttrFloat(v float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'g', -1, 64)}
}

func numInt(item map[string]types.AttributeValue, name string) (int64, error) {
	attr, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamo: missing numeric attribute %s", name)
	}
	v, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dynamo: invalid %s attribute %q: %w", name, attr.Value, err)
	}
	return v, nil
}

func numFloat(item map[string]types.AttributeValue, name string) (float64, error) {
	attr, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamo: missing numeric attribute %s", name)
	}
	v, err := strconv.ParseFloat(attr.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("dynamo: invalid %s attribute %q: %w", name, attr.Value, err)
	}
	return v, nil
}
