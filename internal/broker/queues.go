package broker

// Named queues and sets, exactly the table in spec.md §4.3. Request queues
// named *Set are Redis sets so repeated enqueues of the same id collapse;
// everything else is a Redis list and preserves FIFO order.
const (
	// UsersInFlight is a set of user_id, guarding against re-enqueuing a
	// user already owned by the pipeline.
	UsersInFlight = "users_in_flight"

	// PostsInFlight is a set of post_id, guarding against re-enqueuing a
	// post already owned by the pipeline.
	PostsInFlight = "posts_in_flight"

	// ReqScrape is a set of user_id awaiting a scrape-worker pass.
	ReqScrape = "req.scrape"

	// ResScrape is a list of serialized Post produced by the scrape worker.
	ResScrape = "res.scrape"

	// ReqEntity is a list of serialized Post awaiting entity extraction.
	ReqEntity = "req.entity"

	// ResEntity is a list of serialized EntityResult produced by the
	// entity worker.
	ResEntity = "res.entity"

	// ReqClassify is a list of serialized ClassificationRequest awaiting
	// classification.
	ReqClassify = "req.classify"

	// ResClassify is a list of serialized ClassificationResult produced by
	// the classify worker.
	ResClassify = "res.classify"
)

// Stages, used to key the per-record attempt counters and dead-letter
// queues (spec.md §9 Open Question 1, decision b).
const (
	StageScrape   = "scrape"
	StageEntity   = "entity"
	StageClassify = "classify"
)

// AttemptsKey is the Redis hash tracking consecutive-failure counts for
// stage.
func AttemptsKey(stage string) string {
	return "attempts." + stage
}

// DeadKey is the Redis list holding dead-lettered record ids for stage.
func DeadKey(stage string) string {
	return "dead." + stage
}
