package bot

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

const (
	meCacheKey        = "getMe"
	meCacheExpiration = time.Hour
)

// Me returns the bot's own user record. The result is cached for an hour.
func (b *Bot) Me(ctx context.Context) (map[string]any, error) {
	if value, found := b.cache.Get(meCacheKey); found {
		return value.(map[string]any), nil
	}

	resp, err := b.client.Post(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}

	me := resp.Map()
	if me == nil {
		return nil, errors.New("getMe returned no user")
	}
	b.cache.Set(meCacheKey, me, gocache.DefaultExpiration)
	return me, nil
}

func (b *Bot) Username(ctx context.Context) (string, error) {
	me, err := b.Me(ctx)
	if err != nil {
		return "", err
	}
	return cast.ToString(me["username"]), nil
}
