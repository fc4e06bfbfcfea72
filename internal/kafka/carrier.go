package kafka

import segkafka "github.com/segmentio/kafka-go"

// HeaderCarrier lets OpenTelemetry read and write trace context in Kafka
// message headers.
type HeaderCarrier []segkafka.Header

func (c HeaderCarrier) Get(key string) string {
	if h, ok := c.lookup(key); ok {
		return string(h.Value)
	}
	return ""
}

// Set replaces any header already stored under key.
func (c *HeaderCarrier) Set(key, value string) {
	kept := (*c)[:0]
	for _, h := range *c {
		if h.Key != key {
			kept = append(kept, h)
		}
	}
	*c = append(kept, segkafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c HeaderCarrier) lookup(key string) (segkafka.Header, bool) {
	for _, h := range c {
		if h.Key == key {
			return h, true
		}
	}
	return segkafka.Header{}, false
}
