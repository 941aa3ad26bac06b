package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/shop-monitor/internal/models"
)

type fakeRedis struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeRedis) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, args)
	cmd := redis.NewStringCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("1-0")
	}
	return cmd
}

func TestPublishEntityChanged(t *testing.T) {
	client := &fakeRedis{}
	p := NewPublisher(client, "stream:entity_changed", slog.Default())

	product := models.NewProduct("https://example.cu/tienda1/Item?ProdPid=1")
	product.Name = "Arroz 1kg"
	product.Price = 150
	product.Sha256 = product.Fingerprint()

	require.NoError(t, p.PublishEntityChanged(context.Background(), models.KindProduct, product))
	require.Len(t, client.args, 1)

	args := client.args[0]
	assert.Equal(t, "stream:entity_changed", args.Stream)

	values := args.Values.(map[string]interface{})
	assert.Equal(t, EventTypeEntityChanged, values["event_type"])
	assert.Equal(t, string(models.KindProduct), values["kind"])

	var payload EntityChangedPayload
	require.NoError(t, json.Unmarshal(values["payload"].([]byte), &payload))
	assert.NotEmpty(t, payload.EventID)
	assert.Equal(t, models.KindProduct, payload.Kind)

	var roundTripped models.Product
	require.NoError(t, json.Unmarshal(payload.Entity, &roundTripped))
	assert.Equal(t, product.Name, roundTripped.Name)
	assert.Equal(t, product.Sha256, roundTripped.Sha256)
}

func TestPublishEntityChangedSurfacesRedisError(t *testing.T) {
	client := &fakeRedis{err: errors.New("connection refused")}
	p := NewPublisher(client, "stream:entity_changed", slog.Default())

	err := p.PublishEntityChanged(context.Background(), models.KindStore, models.NewStore("https://example.cu/t1"))
	assert.Error(t, err)
}
