package events

// Topic constants for domain events emitted by the authoring hooks.
const (
	TopicBundleUpserted  = "bundle.upserted"
	TopicBundleDeleted   = "bundle.deleted"
	TopicBundlePublished = "bundle.published"
)

// DefaultTopics returns the canonical list of emitted topics.
func DefaultTopics() []string {
	return []string{
		TopicBundleUpserted,
		TopicBundleDeleted,
		TopicBundlePublished,
	}
}
