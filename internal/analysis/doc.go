// Package analysis scores live typing against the enrolled typing profile.
//
// Key-downs less than SequenceGap milliseconds apart form a sequence. When a
// key is released, every suffix of the sequence that ends at that key and is
// named in the profile's gaussian model is scored with GaussianScore. The
// scores and raw log-durations feed three frame queues, and a Scorer turns
// the frames into a probability that the Engine hands to the controller.
//
// Scorers are either MeanScorer, which averages recent gaussian scores, or a
// ProcessScorer speaking a line protocol with an external model.
package analysis
