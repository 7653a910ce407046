package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"voice-agent/internal/domain"
)

// fakeDynamo keeps items in memory and honours the subset of DynamoDB
// semantics Client relies on: conditional puts, prefix queries and paging.
type fakeDynamo struct {
	items    map[string]map[string]types.AttributeValue
	pageSize int
	getErr   error
	queryErr error
	txErr    error
	// txFailAt, when positive, fails that transaction call (1-based) once.
	txFailAt int
	txCalls  []*dynamodb.TransactWriteItemsInput
	lastGet  *dynamodb.GetItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}, pageSize: 2}
}

func itemKey(item map[string]types.AttributeValue) string {
	return item["PK"].(*types.AttributeValueMemberS).Value + "|" + item["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGet = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value

	var keys []string
	for k := range f.items {
		if strings.HasPrefix(k, pk+"|"+prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := itemKey(in.ExclusiveStartKey)
		start = sort.SearchStrings(keys, after) + 1
	}
	end := start + f.pageSize
	out := &dynamodb.QueryOutput{}
	if end < len(keys) {
		out.LastEvaluatedKey = f.items[keys[end-1]]
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, f.items[k])
	}
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.txCalls = append(f.txCalls, in)
	if f.txErr != nil {
		return nil, f.txErr
	}
	if f.txFailAt == len(f.txCalls) {
		f.txFailAt = 0
		return nil, errors.New("TransactionCanceled")
	}
	if len(in.TransactItems) > maxTxItems {
		return nil, fmt.Errorf("too many items: %d", len(in.TransactItems))
	}
	for _, ti := range in.TransactItems {
		if ti.Put.ConditionExpression != nil {
			if _, exists := f.items[itemKey(ti.Put.Item)]; exists {
				return nil, errors.New("ConditionalCheckFailed")
			}
		}
	}
	for _, ti := range in.TransactItems {
		f.items[itemKey(ti.Put.Item)] = ti.Put.Item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC) }
	return c
}

func sampleAgent(turns int) *domain.Agent {
	created := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	a := &domain.Agent{
		Name:         "Ada",
		Owner:        "host-1",
		VoiceID:      "voice-42",
		Personality:  domain.Personality{Description: "A curious engineer.", Purpose: "Company."},
		Moods:        []domain.MoodAxiom{{Trigger: "rain", Response: "mellow"}},
		Capabilities: []string{"calendar"},
		Memory:       domain.NewMemory(),
		CreatedAt:    created,
	}
	for i := 0; i < turns; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		a.Memory.Append(domain.NewTurn(role, fmt.Sprintf("turn %d", i), created.Add(time.Duration(i)*time.Minute)))
	}
	return a
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "table")
	require.Error(t, err)
	_, err = New(newFakeDynamo(), " ")
	require.Error(t, err)
}

func TestExists(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)

	ok, err := c.Exists(context.Background(), "agent:host-1:Ada")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "PK", *db.lastGet.ProjectionExpression)

	require.NoError(t, c.Write(context.Background(), sampleAgent(0)))
	ok, err = c.Exists(context.Background(), "agent:host-1:Ada")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWriteRead_RoundTrip(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	a := sampleAgent(5)
	require.NoError(t, a.Memory.ReplaceSummary(domain.SummaryDay, "a good day", a.CreatedAt))

	require.NoError(t, c.Write(context.Background(), a))

	got, err := c.Read(context.Background(), a.Key())
	require.NoError(t, err)
	require.Equal(t, a.Name, got.Name)
	require.Equal(t, a.VoiceID, got.VoiceID)
	require.Equal(t, a.Personality, got.Personality)
	require.Equal(t, a.Moods, got.Moods)
	require.Equal(t, a.Memory.Turns(), got.Memory.Turns())
	require.Equal(t, "a good day", got.Memory.Summaries().LastDay.Text)

	meta := db.items[a.Key()+"|"+skMeta]
	require.Equal(t, "5", meta["turns"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "2026-10-02T08:00:00Z", meta["updatedAt"].(*types.AttributeValueMemberS).Value)
}

func TestWrite_AppendsOnlyNewTurns(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	a := sampleAgent(3)
	require.NoError(t, c.Write(context.Background(), a))

	a.Memory.Append(domain.NewTurn(domain.RoleUser, "more", time.Now()))
	require.NoError(t, c.Write(context.Background(), a))

	last := db.txCalls[len(db.txCalls)-1]
	require.Len(t, last.TransactItems, 2)
	require.Equal(t, turnSK(3), last.TransactItems[0].Put.Item["SK"].(*types.AttributeValueMemberS).Value)

	got, err := c.Read(context.Background(), a.Key())
	require.NoError(t, err)
	require.Equal(t, 4, got.Memory.Len())
}

func TestWrite_ChunksLargeHistories(t *testing.T) {
	db := newFakeDynamo()
	db.pageSize = 50
	c := mustNewClient(t, db)
	a := sampleAgent(250)

	require.NoError(t, c.Write(context.Background(), a))
	require.Len(t, db.txCalls, 3)
	require.Len(t, db.txCalls[0].TransactItems, 100)
	require.Len(t, db.txCalls[1].TransactItems, 100)
	require.Len(t, db.txCalls[2].TransactItems, 53)

	got, err := c.Read(context.Background(), a.Key())
	require.NoError(t, err)
	require.Equal(t, 250, got.Memory.Len())
	require.Equal(t, "turn 249", got.Memory.Turns()[249].Content)
}

func TestWrite_ResumesAfterFailedChunk(t *testing.T) {
	db := newFakeDynamo()
	db.pageSize = 50
	db.txFailAt = 2
	c := mustNewClient(t, db)
	a := sampleAgent(250)

	require.ErrorContains(t, c.Write(context.Background(), a), "TransactionCanceled")
	stored, err := c.storedTurnCount(context.Background(), a.Key())
	require.NoError(t, err)
	require.Equal(t, maxTxItems-1, stored)

	require.NoError(t, c.Write(context.Background(), a))
	got, err := c.Read(context.Background(), a.Key())
	require.NoError(t, err)
	require.Equal(t, 250, got.Memory.Len())
	require.Equal(t, "turn 99", got.Memory.Turns()[99].Content)
	require.Equal(t, "turn 249", got.Memory.Turns()[249].Content)

	// Nothing left to append: only the META# item is rewritten.
	calls := len(db.txCalls)
	require.NoError(t, c.Write(context.Background(), a))
	require.Len(t, db.txCalls, calls+1)
	require.Len(t, db.txCalls[calls].TransactItems, 1)
}

func TestWrite_RejectsShrunkMemory(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	require.NoError(t, c.Write(context.Background(), sampleAgent(4)))

	err := c.Write(context.Background(), sampleAgent(2))
	require.Error(t, err)
}

func TestWrite_PropagatesErrors(t *testing.T) {
	db := newFakeDynamo()
	db.txErr = errors.New("throttled")
	c := mustNewClient(t, db)
	require.ErrorContains(t, c.Write(context.Background(), sampleAgent(1)), "throttled")

	require.Error(t, c.Write(context.Background(), nil))

	bad := sampleAgent(0)
	bad.Personality.Description = ""
	db.txErr = nil
	require.ErrorContains(t, c.Write(context.Background(), bad), "invalid record")
}

func TestRead_NotFound(t *testing.T) {
	c := mustNewClient(t, newFakeDynamo())
	_, err := c.Read(context.Background(), "agent:host-1:Nobody")
	require.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestRead_Errors(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	require.NoError(t, c.Write(context.Background(), sampleAgent(1)))

	db.queryErr = errors.New("query failed")
	_, err := c.Read(context.Background(), "agent:host-1:Ada")
	require.ErrorContains(t, err, "query failed")

	db.getErr = errors.New("get failed")
	_, err = c.Read(context.Background(), "agent:host-1:Ada")
	require.ErrorContains(t, err, "get failed")
}

func TestRead_CorruptRecord(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	db.items["agent:host-1:Ada|"+skMeta] = map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: "agent:host-1:Ada"},
		"SK":     &types.AttributeValueMemberS{Value: skMeta},
		"record": &types.AttributeValueMemberS{Value: `{"version":1,"name":"Ada"}`},
	}
	_, err := c.Read(context.Background(), "agent:host-1:Ada")
	require.ErrorContains(t, err, "invalid record")
}

func TestItemToTurn_Errors(t *testing.T) {
	item := turnItem("k", domain.Turn{ID: "x", Seq: 1, Role: domain.RoleUser, Content: "hi", CreatedAt: time.Now()})
	_, err := itemToTurn(item)
	require.NoError(t, err)

	item["role"] = &types.AttributeValueMemberS{Value: "robot"}
	_, err = itemToTurn(item)
	require.Error(t, err)

	item["role"] = &types.AttributeValueMemberS{Value: "user"}
	item["seq"] = &types.AttributeValueMemberS{Value: "1"}
	_, err = itemToTurn(item)
	require.Error(t, err)
}

func TestTurnSK_SortsNumerically(t *testing.T) {
	require.Equal(t, "TURN#00000007", turnSK(7))
	require.Less(t, turnSK(9), turnSK(10))
}
