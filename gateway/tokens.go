package gateway

import (
	"context"
	"encoding/json"

	"github.com/mbolis/fieldsync/kv"
	"github.com/pkg/errors"
)

const TokensKey = "auth:tokens"

// Tokens is the pair issued by /api/login and /api/refresh.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

type TokenStore interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, tokens Tokens) error
	Clear(ctx context.Context) error
}

// KVTokenStore keeps the token pair on the device.
type KVTokenStore struct {
	KV kv.Store
}

func (s KVTokenStore) Load(ctx context.Context) (Tokens, error) {
	var t Tokens
	data, ok, err := s.KV.Get(ctx, TokensKey)
	if err != nil || !ok {
		return t, errors.Wrap(err, "load tokens")
	}
	if err = json.Unmarshal(data, &t); err != nil {
		return Tokens{}, errors.Wrap(err, "decode tokens")
	}
	return t, nil
}

func (s KVTokenStore) Save(ctx context.Context, tokens Tokens) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return errors.Wrap(err, "encode tokens")
	}
	return errors.Wrap(s.KV.Set(ctx, TokensKey, data), "save tokens")
}

func (s KVTokenStore) Clear(ctx context.Context) error {
	return errors.Wrap(s.KV.Delete(ctx, TokensKey), "clear tokens")
}
