package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"voice-agent/internal/domain"
)

const (
	skMeta        = "META#"
	skPrefixTurn  = "TURN#"
	maxTxItems    = 100
	turnKeyDigits = 8
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores agents in a single DynamoDB table. Each agent is one META#
// item holding the JSON record plus one immutable TURN# item per turn, all
// under the agent key as partition key.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// turnSK returns the sort key for the turn at position seq. Zero padding keeps
// lexical and numeric order equal.
func turnSK(seq int) string {
	return fmt.Sprintf("%s%0*d", skPrefixTurn, turnKeyDigits, seq)
}

func metaKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: key},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// Exists reports whether an agent record is stored under key.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(c.tableName),
		Key:                  metaKey(key),
		ProjectionExpression: aws.String("PK"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("repository: Exists get item: %w", err)
	}
	return out != nil && len(out.Item) > 0, nil
}

// Read loads the agent record and all of its turns in order.
func (c *Client) Read(ctx context.Context, key string) (*domain.Agent, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            metaKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Read get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, fmt.Errorf("repository: %s: %w", key, domain.ErrAgentNotFound)
	}

	raw, err := strAttr(out.Item, "record")
	if err != nil {
		return nil, fmt.Errorf("repository: Read: %w", err)
	}
	rec, err := DecodeRecord([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("repository: Read decode: %w", err)
	}

	turns, err := c.queryTurns(ctx, key)
	if err != nil {
		return nil, err
	}
	rec.Turns = turns
	return rec.ToAgent(), nil
}

func (c *Client) queryTurns(ctx context.Context, key string) ([]domain.Turn, error) {
	var (
		turns    []domain.Turn
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: key},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: Read query turns: %w", err)
		}
		for _, item := range out.Items {
			t, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repository: Read unmarshal turn: %w", err)
			}
			turns = append(turns, t)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return turns, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Write stores the agent record and appends the turns that are not yet
// persisted. Stored turns are never rewritten.
func (c *Client) Write(ctx context.Context, a *domain.Agent) error {
	if a == nil {
		return errors.New("repository: Write: agent must not be nil")
	}
	key := a.Key()
	rec := FromAgent(a)
	turns := rec.Turns
	rec.Turns = nil

	data, err := EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("repository: Write: %w", err)
	}
	if err := validateJSON(data); err != nil {
		return fmt.Errorf("repository: Write: %w", err)
	}

	stored, err := c.storedTurnCount(ctx, key)
	if err != nil {
		return err
	}
	if stored > len(turns) {
		return fmt.Errorf("repository: Write: store holds %d turns, agent only %d", stored, len(turns))
	}
	pending := turns[stored:]

	// Every chunk carries the META# item with the count of turns committed so
	// far, so a failed chunk leaves a count that matches the stored turns and
	// the next Write resumes after them.
	for {
		n := min(len(pending), maxTxItems-1)
		stored += n
		items := make([]types.TransactWriteItem, 0, n+1)
		for _, t := range pending[:n] {
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(key, t),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			})
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      c.metaItem(key, string(data), stored),
			},
		})
		if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
			return fmt.Errorf("repository: Write: %w", err)
		}
		pending = pending[n:]
		if len(pending) == 0 {
			return nil
		}
	}
}

func (c *Client) storedTurnCount(ctx context.Context, key string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(c.tableName),
		Key:                  metaKey(key),
		ProjectionExpression: aws.String("turns"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: Write get turn count: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}
	n, err := intAttr(out.Item, "turns")
	if err != nil {
		return 0, fmt.Errorf("repository: Write decode turn count: %w", err)
	}
	return n, nil
}

func (c *Client) metaItem(key, record string, turns int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: key},
		"SK":        &types.AttributeValueMemberS{Value: skMeta},
		"record":    &types.AttributeValueMemberS{Value: record},
		"turns":     &types.AttributeValueMemberN{Value: strconv.Itoa(turns)},
		"updatedAt": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
	}
}

func turnItem(key string, t domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: key},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(t.Seq)},
		"id":        &types.AttributeValueMemberS{Value: t.ID},
		"seq":       &types.AttributeValueMemberN{Value: strconv.Itoa(t.Seq)},
		"role":      &types.AttributeValueMemberS{Value: string(t.Role)},
		"content":   &types.AttributeValueMemberS{Value: t.Content},
		"createdAt": &types.AttributeValueMemberS{Value: t.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Turn{}, err
	}
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	if !domain.Role(role).Valid() {
		return domain.Turn{}, fmt.Errorf("repository: unknown role %q", role)
	}
	content, _ := strAttr(item, "content") // allow empty
	created, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("repository: parse createdAt: %w", err)
	}
	return domain.Turn{
		ID:        id,
		Seq:       seq,
		Role:      domain.Role(role),
		Content:   content,
		CreatedAt: ts,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
