package constant

const (
	ProductionEnvironment  = "production"
	DevelopmentEnvironment = "development"

	OrderQueueStreamName      = "swap_orders"
	OrderQueueStreamSubjects  = "swap_orders.*"
	OrderQueueSubjectExecute  = "swap_orders.execute"
	OrderQueueDurableConsumer = "swap_orders_workers"

	StatusStreamName       = "swap_status"
	StatusStreamSubjectAll = "swap_status.*"
)

// StatusStreamSubject returns the per-order subject status events are
// published on.
func StatusStreamSubject(orderID string) string {
	return StatusStreamName + "." + orderID
}
