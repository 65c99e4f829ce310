package repository

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"archetype-quiz/internal/domain"
	"archetype-quiz/internal/session"
)

// fakeDynamo is an in-memory table that honours the two condition expressions
// SessionClient uses.
type fakeDynamo struct {
	mu           sync.Mutex
	items        map[string]map[string]types.AttributeValue
	getErr       error
	putErr       error
	conflicts    int
	puts         int
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value + "|" + key["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGetInput = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPutInput = in
	f.puts++
	if f.putErr != nil {
		return nil, f.putErr
	}
	if f.conflicts > 0 {
		f.conflicts--
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("injected")}
	}
	key := itemKey(in.Item)
	existing, ok := f.items[key]
	switch aws.ToString(in.ConditionExpression) {
	case "attribute_not_exists(PK)":
		if ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case "version = :v":
		want := in.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberN).Value
		if !ok || existing["version"].(*types.AttributeValueMemberN).Value != want {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("version")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func mustNewClient(t *testing.T, db *fakeDynamo) *SessionClient {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC) }
	return c
}

func setGender(s *domain.Session) error {
	s.Phase = domain.PhaseAwaitingPromo
	s.Variant = domain.VariantFemale
	s.Scores = map[string]int{"fairy": 0, "witch": 0}
	return nil
}

func TestGetOrCreate_MissingItemIsIdle(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	s, err := c.GetOrCreate(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseIdle, s.Phase)
	require.Equal(t, "abc", s.ConversationID)
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Zero(t, db.puts, "GetOrCreate must not write")
}

func TestGetOrCreate_GetItemError(t *testing.T) {
	db := newFakeDynamo()
	db.getErr = errors.New("boom")
	c := mustNewClient(t, db)
	_, err := c.GetOrCreate(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetOrCreate")
}

func TestGetOrCreate_MalformedItem(t *testing.T) {
	db := newFakeDynamo()
	db.items["CONV#abc|SESSION#"] = map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: "CONV#abc"},
		"SK":      &types.AttributeValueMemberS{Value: skSession},
		"session": &types.AttributeValueMemberS{Value: "{not json"},
		"version": &types.AttributeValueMemberN{Value: "3"},
	}
	c := mustNewClient(t, db)
	_, err := c.GetOrCreate(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal session")
}

func TestUpdate_FirstWriteIsConditionalOnAbsence(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	out, err := c.Update(context.Background(), "abc", setGender)
	require.NoError(t, err)
	require.Equal(t, int64(1), out.Version)
	require.Equal(t, "attribute_not_exists(PK)", *db.lastPutInput.ConditionExpression)
	require.Equal(t, "CONV#abc", db.lastPutInput.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "awaiting_promo", db.lastPutInput.Item["phase"].(*types.AttributeValueMemberS).Value)

	ttl, err := strconv.ParseInt(db.lastPutInput.Item["ttl"].(*types.AttributeValueMemberN).Value, 10, 64)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 10, 31, 9, 0, 0, 0, time.UTC).Unix(), ttl)
}

func TestUpdate_RoundTripsSession(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	_, err := c.Update(context.Background(), "abc", setGender)
	require.NoError(t, err)

	out, err := c.Update(context.Background(), "abc", func(s *domain.Session) error {
		require.Equal(t, domain.PhaseAwaitingPromo, s.Phase)
		s.Scores["witch"] += 3
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), out.Version)
	require.Equal(t, "version = :v", *db.lastPutInput.ConditionExpression)
	require.Equal(t, "1", db.lastPutInput.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberN).Value)

	got, err := c.GetOrCreate(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, 3, got.Scores["witch"])
	require.Equal(t, domain.VariantFemale, got.Variant)
	require.Equal(t, int64(2), got.Version)
}

func TestUpdate_RetriesOnConditionalCheckFailure(t *testing.T) {
	db := newFakeDynamo()
	db.conflicts = 2
	c := mustNewClient(t, db)
	calls := 0
	out, err := c.Update(context.Background(), "abc", func(s *domain.Session) error {
		calls++
		return setGender(s)
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, int64(1), out.Version)
}

func TestUpdate_GivesUpWithErrConflict(t *testing.T) {
	db := newFakeDynamo()
	db.conflicts = 100
	c := mustNewClient(t, db)
	_, err := c.Update(context.Background(), "abc", setGender)
	require.ErrorIs(t, err, session.ErrConflict)
	require.Equal(t, defaultMaxAttempts, db.puts)
}

func TestUpdate_MutatorErrorSkipsWrite(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	boom := errors.New("boom")
	_, err := c.Update(context.Background(), "abc", func(*domain.Session) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Zero(t, db.puts)
}

func TestUpdate_PutError(t *testing.T) {
	db := newFakeDynamo()
	db.putErr = errors.New("ProvisionedThroughputExceededException")
	c := mustNewClient(t, db)
	_, err := c.Update(context.Background(), "abc", setGender)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Update")
	require.Equal(t, 1, db.puts)
}

func TestClear_WritesIdleSessionWithNextVersion(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	_, err := c.Update(context.Background(), "abc", setGender)
	require.NoError(t, err)

	require.NoError(t, c.Clear(context.Background(), "abc"))
	got, err := c.GetOrCreate(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseIdle, got.Phase)
	require.Nil(t, got.Scores)
	require.Equal(t, int64(2), got.Version)
}

func TestConvPK(t *testing.T) {
	require.Equal(t, "CONV#my-conv", convPK("my-conv"))
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(newFakeDynamo(), " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
