package dynamostore

import (
	"encoding/base64"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
)

// cursor is the continuation token of a query or scan: the key of the last item
// DynamoDB evaluated.
type cursor struct {
	PartitionKey string `json:"pk"`
	RowKey       string `json:"rk"`
}

func encodeCursor(lastKey map[string]types.AttributeValue) (string, error) {
	if len(lastKey) == 0 {
		return "", nil
	}
	pk, okPK := lastKey[core.FieldPartitionKey].(*types.AttributeValueMemberS)
	rk, okRK := lastKey[core.FieldRowKey].(*types.AttributeValueMemberS)
	if !okPK || !okRK {
		return "", errors.Usage("last evaluated key is not a string key pair")
	}
	data, err := json.Marshal(cursor{PartitionKey: pk.Value, RowKey: rk.Value})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeCursor(token string) (map[string]types.AttributeValue, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.Usage("malformed continuation token")
	}
	var c cursor
	if err := json.Unmarshal(data, &c); err != nil || c.PartitionKey == "" || c.RowKey == "" {
		return nil, errors.Usage("malformed continuation token")
	}
	return keyOf(c.PartitionKey, c.RowKey), nil
}

func keyOf(partitionKey, rowKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		core.FieldPartitionKey: &types.AttributeValueMemberS{Value: partitionKey},
		core.FieldRowKey:       &types.AttributeValueMemberS{Value: rowKey},
	}
}
