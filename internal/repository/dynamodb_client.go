package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"archetype-quiz/internal/domain"
	"archetype-quiz/internal/session"
)

const (
	skSession          = "SESSION#"
	ttlDuration        = 30 * 24 * time.Hour // 30-day TTL
	defaultMaxAttempts = 5
)

// dynamodbAPI is the minimal DynamoDB interface required by SessionClient.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// SessionClient stores quiz sessions in a DynamoDB table, one item per
// conversation. Writes are conditional on the version read, so concurrent
// handlers for one conversation (e.g. separate Lambda instances) never
// interleave a read-modify-write.
type SessionClient struct {
	api         dynamodbAPI
	tableName   string
	maxAttempts int
	now         func() time.Time
}

var _ session.Store = (*SessionClient)(nil)

// New creates a new repository SessionClient.
func New(api dynamodbAPI, tableName string) (*SessionClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &SessionClient{api: api, tableName: tableName, maxAttempts: defaultMaxAttempts, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// ttlValue returns a Unix timestamp 30 days after now.
func ttlValue(now time.Time) int64 {
	return now.Add(ttlDuration).Unix()
}

// GetOrCreate returns the stored session or a fresh idle one. Nothing is written
// until the first Update.
func (c *SessionClient) GetOrCreate(ctx context.Context, conversationID string) (domain.Session, error) {
	if strings.TrimSpace(conversationID) == "" {
		return domain.Session{}, errors.New("repository: GetOrCreate: conversation id is required")
	}
	s, _, err := c.get(ctx, conversationID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetOrCreate: %w", err)
	}
	return s, nil
}

// Update applies mutate to the latest stored session and writes it back if the
// stored version is unchanged, retrying on conflicts.
func (c *SessionClient) Update(ctx context.Context, conversationID string, mutate func(*domain.Session) error) (domain.Session, error) {
	if strings.TrimSpace(conversationID) == "" {
		return domain.Session{}, errors.New("repository: Update: conversation id is required")
	}
	if mutate == nil {
		return domain.Session{}, errors.New("repository: Update: mutator must not be nil")
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		current, found, err := c.get(ctx, conversationID)
		if err != nil {
			return domain.Session{}, fmt.Errorf("repository: Update: %w", err)
		}
		working := current.Clone()
		if err := mutate(&working); err != nil {
			return domain.Session{}, err
		}
		working.ConversationID = conversationID
		working.Version = current.Version + 1
		working.UpdatedAt = c.now().UTC()

		err = c.put(ctx, working, current.Version, found)
		if err == nil {
			return working, nil
		}
		var conflict *types.ConditionalCheckFailedException
		if !errors.As(err, &conflict) {
			return domain.Session{}, fmt.Errorf("repository: Update: %w", err)
		}
	}
	return domain.Session{}, fmt.Errorf("repository: Update %s: %w", conversationID, session.ErrConflict)
}

// Clear resets the conversation to idle through a versioned write.
func (c *SessionClient) Clear(ctx context.Context, conversationID string) error {
	_, err := c.Update(ctx, conversationID, func(s *domain.Session) error {
		s.Reset()
		return nil
	})
	if err != nil {
		return fmt.Errorf("repository: Clear: %w", err)
	}
	return nil
}

func (c *SessionClient) get(ctx context.Context, conversationID string) (domain.Session, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skSession},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.NewSession(conversationID), false, nil
	}
	s, err := itemToSession(out.Item)
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	return s, true, nil
}

func (c *SessionClient) put(ctx context.Context, s domain.Session, expectedVersion int64, exists bool) error {
	item, err := sessionItem(s, ttlValue(c.now()))
	if err != nil {
		return err
	}
	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}
	if exists {
		in.ConditionExpression = aws.String("version = :v")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		}
	} else {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	}
	_, err = c.api.PutItem(ctx, in)
	return err
}

func sessionItem(s domain.Session, ttl int64) (map[string]types.AttributeValue, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(s.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: skSession},
		"conversationId": &types.AttributeValueMemberS{Value: s.ConversationID},
		"phase":          &types.AttributeValueMemberS{Value: string(s.Phase)},
		"session":        &types.AttributeValueMemberS{Value: string(body)},
		"version":        &types.AttributeValueMemberN{Value: strconv.FormatInt(s.Version, 10)},
		"lastActivity":   &types.AttributeValueMemberS{Value: s.UpdatedAt.Format(time.RFC3339)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}, nil
}

// itemToSession converts a DynamoDB attribute map to a Session. The version
// attribute is authoritative over the encoded body.
func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	body, err := strAttr(item, "session")
	if err != nil {
		return domain.Session{}, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return domain.Session{}, err
	}
	var s domain.Session
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return domain.Session{}, fmt.Errorf("repository: unmarshal session: %w", err)
	}
	s.Version = version
	return s, nil
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

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
