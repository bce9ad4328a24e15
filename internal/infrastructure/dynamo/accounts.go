package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-auth-session/internal/domain"
)

// Item types sharing the accounts table. The email lock item is what makes
// email unique: its hash key is derived from the email, so a second account
// with the same address fails the attribute_not_exists condition.
const (
	itemTypeAccount   = "account"
	itemTypeEmailLock = "email_lock"

	attrPK        = "user_id"
	attrItemType  = "item_type"
	attrAccountID = "account_id"

	emailLockPrefix = "email#"
)

// AccountRepo is the durable credential store.
// PK: user_id (account ULID, or "email#<email>" for the uniqueness lock).
type AccountRepo struct {
	client    API
	tableName string
}

func NewAccountRepo(client API, tableName string) *AccountRepo {
	return &AccountRepo{client: client, tableName: tableName}
}

// Create writes the account and its email lock atomically. A taken email
// (or id) yields domain.ErrConflict.
func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) error {
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	item[attrItemType] = strAttr(itemTypeAccount)

	lock := map[string]types.AttributeValue{
		attrPK:        strAttr(emailLockPrefix + a.Email),
		attrItemType:  strAttr(itemTypeEmailLock),
		attrAccountID: strAttr(a.AccountID),
	}
	notExists := aws.String("attribute_not_exists(" + attrPK + ")")

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: lock, ConditionExpression: notExists}},
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: item, ConditionExpression: notExists}},
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("account %s: %w", a.Email, domain.ErrConflict)
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *AccountRepo) FindByID(ctx context.Context, accountID string) (*domain.Account, error) {
	item, err := r.get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if item == nil || stringAttr(item, attrItemType) != itemTypeAccount {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	var a domain.Account
	if err := attributevalue.UnmarshalMap(item, &a); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &a, nil
}

// FindByEmail resolves the lock item first; both reads are strongly consistent,
// so an account is visible here as soon as Create returns.
func (r *AccountRepo) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	lock, err := r.get(ctx, emailLockPrefix+email)
	if err != nil {
		return nil, err
	}
	accountID := stringAttr(lock, attrAccountID)
	if accountID == "" {
		return nil, fmt.Errorf("account: %w", domain.ErrNotFound)
	}
	return r.FindByID(ctx, accountID)
}

func (r *AccountRepo) get(ctx context.Context, pk string) (map[string]types.AttributeValue, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(attrPK, pk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get account item: %w", err)
	}
	return out.Item, nil
}
