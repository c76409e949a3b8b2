package kafka

import "time"

// ProducerOption configures Producer.
type ProducerOption func(*ProducerConfig)

// ProducerConfig holds the writer settings. Writes are synchronous so a
// failed publish surfaces to the job that made it.
type ProducerConfig struct {
	Brokers         []string
	RequiredAcks    int    // -1 waits for all in-sync replicas
	Compression     string // gzip, snappy, lz4 or zstd
	MaxAttempts     int
	Timeout         time.Duration // per write and per read
	Linger          time.Duration // how long a partial batch may wait
	HashByKey       bool
	AutoCreateTopic bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

func WithCompression(codec string) ProducerOption {
	return func(c *ProducerConfig) { c.Compression = codec }
}

func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) { c.RequiredAcks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *ProducerConfig) { c.MaxAttempts = n }
}

func WithTimeout(d time.Duration) ProducerOption {
	return func(c *ProducerConfig) { c.Timeout = d }
}

// WithLinger bounds the wait for a batch to fill. Predictions are published
// once per run, so a short linger keeps the job from idling.
func WithLinger(d time.Duration) ProducerOption {
	return func(c *ProducerConfig) { c.Linger = d }
}

// WithHashByKey routes equal keys to the same partition, keeping the
// records of one delivery hour ordered.
func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) { c.HashByKey = hash }
}

func WithAutoCreateTopic(enabled bool) ProducerOption {
	return func(c *ProducerConfig) { c.AutoCreateTopic = enabled }
}
