package mqtt

import "strings"

// TopicMatches reports whether an MQTT topic matches a filter.
// "+" matches exactly one level; "#" matches zero or more trailing
// levels and must be the last filter segment.
func TopicMatches(filter, topic string) bool {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, fp := range filterParts {
		if fp == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if fp == "+" {
			continue
		}
		if fp != topicParts[i] {
			return false
		}
	}
	return len(filterParts) == len(topicParts)
}
