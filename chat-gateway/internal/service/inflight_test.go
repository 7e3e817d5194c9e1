package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInflight_FallbackThenLateEcho(t *testing.T) {
	f := newInflight(time.Now)
	f.begin("m1")

	assert.True(t, f.claim("m1"), "fallback delivers")
	assert.False(t, f.claim("m1"), "late echo is dropped")
	assert.Equal(t, 0, f.len())
}

func TestInflight_EchoBeforePublishReturns(t *testing.T) {
	f := newInflight(time.Now)
	f.begin("m1")

	assert.True(t, f.claim("m1"), "echo delivers")
	f.published("m1")
	assert.Equal(t, 0, f.len())
	assert.True(t, f.claim("m2"), "untracked ids always deliver")
}

func TestInflight_PrunesStaleEntries(t *testing.T) {
	now := time.Unix(0, 0)
	f := newInflight(func() time.Time { return now })
	f.begin("m1")
	f.claim("m1")

	now = now.Add(inflightTTL + time.Second)
	f.begin("m2")
	assert.Equal(t, 1, f.len())
	assert.True(t, f.claim("m1"))
}
