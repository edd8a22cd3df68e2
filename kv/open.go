package kv

import (
	"io"
	"strings"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open picks a backend from dsn: "memory", a redis:// or rediss:// URL, or a sqlite file path.
func Open(dsn string) (Store, io.Closer, error) {
	switch {
	case dsn == "memory":
		return NewMemory(), nopCloser{}, nil
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		s, err := NewRedis(dsn, "fieldsync:")
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		s, err := OpenSQLite(dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}
