package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIntDefault(t *testing.T) {
	assert.Equal(t, 9000, ParseIntDefault("", 9000))
	assert.Equal(t, 9440, ParseIntDefault(" 9440 ", 9000))
	assert.Equal(t, 9000, ParseIntDefault("nine", 9000))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, SplitList("k1:9092, ,k2:9092,"))
	assert.Nil(t, SplitList(" "))
}

func TestSplitHostPort(t *testing.T) {
	host, port := SplitHostPort("redis:6380", 6379)
	assert.Equal(t, "redis", host)
	assert.Equal(t, 6380, port)

	host, port = SplitHostPort("redis", 6379)
	assert.Equal(t, "redis", host)
	assert.Equal(t, 6379, port)
}
