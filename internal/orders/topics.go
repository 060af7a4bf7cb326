package orders

const (
	DefaultTopicOrderEvents     = "order-events"
	DefaultTopicInventoryEvents = "inventory-events"
)

// Partition key = order_id untuk lifecycle event, product_id untuk inventory event.
func PartitionKey(id string) []byte { return []byte(id) }
