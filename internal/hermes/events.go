package hermes

import "github.com/MikeSquared-Agency/loom/internal/episode"

const (
	// SubjectForumsThread carries raw forum threads to normalize.
	SubjectForumsThread   = "loom.forums.thread"
	// SubjectEpisodeBuilt announces each finished episode.
	SubjectEpisodeBuilt   = "loom.episode.built"
	// SubjectThreadRejected reports threads that were skipped or failed cleaning.
	SubjectThreadRejected = "loom.forums.rejected"
	// SubjectRunCompleted carries the summary of a finished batch run.
	SubjectRunCompleted   = "loom.run.completed"
	// SubjectRegistered announces a service instance coming up.
	SubjectRegistered     = "swarm.agent.loom.registered"

	QueueGroup = "loom"
)

// EpisodeBuilt is published for every episode written by a run or the
// service.
type EpisodeBuilt struct {
	RunID   string          `json:"run_id"`
	Episode episode.Episode `json:"episode"`
}

// ThreadRejected explains why a thread produced no episode.
type ThreadRejected struct {
	ThreadName string `json:"thread_name"`
	SourceFile string `json:"source_file"`
	Reason     string `json:"reason"`
	Error      string `json:"error,omitempty"`
}
